package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linechat/internal/app"
	"linechat/internal/hub"
	"linechat/internal/relay"
)

func main() {
	if err := newRootCmd().Execute(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "linechat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverCfg app.ServerConfig
		clientCfg app.ClientConfig
		quiet     bool
	)

	root := &cobra.Command{
		Use:   "linechat",
		Short: "Line-oriented chat relay and client",
		Long: "linechat relays text lines, files and commands between every connected peer.\n" +
			"Without --server-address it runs the relay; with it, it connects as a client.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if clientCfg.ServerAddress != "" {
				clientCfg.Port = serverCfg.Port
				return app.RunClient(ctx, clientCfg)
			}

			infof := func(format string, args ...interface{}) {
				if quiet {
					return
				}
				log.Printf(format, args...)
			}
			if !quiet {
				serverCfg.Logger = log.Default()
			}
			return runServerMode(ctx, serverCfg, infof)
		},
	}

	flags := root.Flags()
	flags.IntVarP(&serverCfg.Port, "port", "p", envInt("LINECHAT_PORT", app.DefaultPort), "relay port (server listens on it, client dials it)")
	flags.StringVarP(&clientCfg.ServerAddress, "server-address", "s", envOrDefault("LINECHAT_SERVER", ""), "relay host, host:port or ws:// URL; enables client mode")
	flags.StringVarP(&clientCfg.Username, "username", "u", envOrDefault("LINECHAT_USER", "Anonymous"), "display name (client mode)")

	flags.StringVar(&serverCfg.Bind, "bind", envOrDefault("LINECHAT_BIND", "0.0.0.0"), "relay bind address")
	flags.StringVar(&serverCfg.WSAddr, "ws-addr", envOrDefault("LINECHAT_WS_ADDR", ""), "HTTP listen address for the websocket gateway and /metrics (empty disables)")
	flags.StringVar(&serverCfg.WSPath, "ws-path", envOrDefault("LINECHAT_WS_PATH", "/join"), "websocket join path")
	flags.StringVar(&serverCfg.AuditDB, "audit-db", envOrDefault("LINECHAT_AUDIT_DB", ""), "sqlite audit database (empty disables auditing unless --audit is set)")
	flags.BoolVar(&serverCfg.Audit, "audit", envBool("LINECHAT_AUDIT"), "audit sessions to the default database read by the audit command")
	flags.IntVar(&serverCfg.MaxConns, "max-conns", envInt("LINECHAT_MAX_CONNS", relay.DefaultMaxConns), "maximum concurrent connections")
	flags.IntVar(&serverCfg.HubCapacity, "hub-capacity", envInt("LINECHAT_HUB_CAPACITY", hub.DefaultCapacity), "unread messages kept per connection before the oldest are dropped")
	flags.IntVar(&serverCfg.MaxLineBytes, "max-line-bytes", envInt("LINECHAT_MAX_LINE_BYTES", relay.DefaultMaxLineBytes), "largest accepted line, file payloads included")
	flags.IntVar(&serverCfg.AcceptBurst, "accept-burst", envInt("LINECHAT_ACCEPT_BURST", relay.DefaultAcceptBurst), "new connections allowed per host within --accept-window (0 disables)")
	flags.DurationVar(&serverCfg.AcceptWindow, "accept-window", envDuration("LINECHAT_ACCEPT_WINDOW", relay.DefaultAcceptWindow), "window for --accept-burst")
	flags.DurationVar(&serverCfg.WriteTimeout, "write-timeout", envDuration("LINECHAT_WRITE_TIMEOUT", relay.DefaultWriteTimeout), "deadline for each write to a peer")
	flags.BoolVar(&quiet, "quiet", false, "suppress informational logs")

	flags.StringVar(&clientCfg.DownloadDir, "download-dir", envOrDefault("LINECHAT_DOWNLOAD_DIR", "."), "where received files are written (client mode)")
	flags.BoolVar(&clientCfg.Plain, "plain", false, "line-mode console instead of the terminal UI (client mode)")

	root.AddCommand(newAuditCmd(), newVersionCmd())
	return root
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	infof("linechat relay listening on %s (hub capacity %d)", handle.Addr(), handle.Relay().Hub().Capacity())
	if addr := handle.HTTPAddr(); addr != "" {
		infof("websocket gateway on ws://%s%s, metrics on http://%s/metrics", addr, app.NormalizeJoinPath(cfg.WSPath), addr)
	}
	if path := cfg.AuditDBPath(); path != "" {
		infof("auditing sessions to %s", path)
	}

	err = handle.Wait()
	infof("linechat relay stopped")
	return err
}

func newAuditCmd() *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent sessions and uploads from an audit database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.PrintAudit(cmd.Context(), path, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&path, "db", app.DefaultAuditDBPath(), "audit database path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows per table")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the linechat version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "linechat %s\n", app.Version)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
