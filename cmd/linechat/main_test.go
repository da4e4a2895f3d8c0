package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "linechat ") {
		t.Errorf("output %q", out.String())
	}
}

func TestRootFlagDefaults(t *testing.T) {
	root := newRootCmd()
	flags := root.Flags()
	cases := map[string]string{
		"port":           "6969",
		"audit":          "false",
		"username":       "Anonymous",
		"server-address": "",
		"ws-path":        "/join",
		"hub-capacity":   "16",
		"max-conns":      "256",
		"download-dir":   ".",
	}
	for name, want := range cases {
		f := flags.Lookup(name)
		if f == nil {
			t.Errorf("flag --%s missing", name)
			continue
		}
		if f.DefValue != want {
			t.Errorf("--%s default = %q, want %q", name, f.DefValue, want)
		}
	}
	for short, long := range map[string]string{"p": "port", "s": "server-address", "u": "username"} {
		if f := flags.ShorthandLookup(short); f == nil || f.Name != long {
			t.Errorf("-%s should alias --%s", short, long)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LINECHAT_TEST_INT", "42")
	t.Setenv("LINECHAT_TEST_BAD", "x")
	t.Setenv("LINECHAT_TEST_DUR", "3s")
	if envInt("LINECHAT_TEST_INT", 1) != 42 || envInt("LINECHAT_TEST_BAD", 1) != 1 || envInt("LINECHAT_TEST_UNSET", 7) != 7 {
		t.Error("envInt")
	}
	if envDuration("LINECHAT_TEST_DUR", time.Second) != 3*time.Second || envDuration("LINECHAT_TEST_BAD", time.Second) != time.Second {
		t.Error("envDuration")
	}
	t.Setenv("LINECHAT_TEST_BOOL", "true")
	if !envBool("LINECHAT_TEST_BOOL") || envBool("LINECHAT_TEST_BAD") || envBool("LINECHAT_TEST_UNSET") {
		t.Error("envBool")
	}
	if envOrDefault("LINECHAT_TEST_UNSET", "d") != "d" {
		t.Error("envOrDefault")
	}
}

func TestAuditCommandMissingDB(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"audit", "--db", t.TempDir() + "/missing.db"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Error("expected error for missing database")
	}
}
