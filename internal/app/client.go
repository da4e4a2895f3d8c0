package app

import (
	"context"
	"errors"
	"os"

	"linechat/internal/client"
	"linechat/internal/protocol"
)

// RunClient connects to the relay and drives it from the terminal until the
// user quits (nil) or the connection fails.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if cfg.ServerAddress == "" {
		return errors.New("server address is required")
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	addr := cfg.DialAddr()
	sess, err := client.Dial(ctx, addr, cfg.DownloadDir)
	if err != nil {
		return err
	}
	defer sess.Close()

	proc := client.NewProcessor(protocol.NewIdentity(cfg.Username))
	if cfg.Plain {
		return client.RunPlain(ctx, sess, proc, cfg.Stdin, cfg.Stdout, cfg.Stderr)
	}
	return client.RunTUI(sess, proc, addr)
}
