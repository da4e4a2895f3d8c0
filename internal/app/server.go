package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"linechat/internal/relay"
	"linechat/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running relay instance.
type ServerHandle struct {
	addr     string
	httpAddr string
	relay    *relay.Server
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// Addr returns the actual TCP listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// HTTPAddr returns the websocket/metrics listen address, or "" when disabled.
func (h *ServerHandle) HTTPAddr() string {
	return h.httpAddr
}

// Relay exposes the underlying relay server.
func (h *ServerHandle) Relay() *relay.Server {
	return h.relay
}

// Stop cancels the relay and waits for it to wind down, bounded by ctx.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.cancel()
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the relay exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the optional audit store, binds the listeners and starts
// serving in the background. The relay stops when ctx is cancelled or Stop is
// called.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	cfg.WSPath = NormalizeJoinPath(cfg.WSPath)

	var store *storage.Store
	if path := cfg.AuditDBPath(); path != "" {
		var err error
		if store, err = openAuditStore(ctx, path); err != nil {
			return nil, err
		}
	}
	closeStore := func() {
		if store == nil {
			return
		}
		if err := store.Close(); err != nil && cfg.Logger != nil {
			cfg.Logger.Printf("store close error: %v", err)
		}
	}

	metrics := relay.NewMetrics()
	srv, err := relay.New(relayOptions(cfg, store, metrics)...)
	if err != nil {
		closeStore()
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("listen: %w", err)
	}

	var httpListener net.Listener
	if cfg.WSAddr != "" {
		if httpListener, err = net.Listen("tcp", cfg.WSAddr); err != nil {
			_ = listener.Close()
			closeStore()
			return nil, fmt.Errorf("listen http: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		relay:  srv,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := srv.Serve(groupCtx, listener); !errors.Is(err, relay.ErrServerClosed) {
			return err
		}
		return nil
	})
	if httpListener != nil {
		handle.httpAddr = httpListener.Addr().String()
		httpServer := &http.Server{Handler: newMux(groupCtx, cfg.WSPath, srv, metrics)}
		group.Go(func() error {
			if err := httpServer.Serve(httpListener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	go func() {
		defer close(handle.done)
		err := group.Wait()
		waitCtx, cancelWait := context.WithTimeout(context.Background(), shutdownTimeout)
		if werr := srv.Wait(waitCtx); werr != nil && cfg.Logger != nil {
			cfg.Logger.Printf("handlers still running after %s: %v", shutdownTimeout, werr)
		}
		cancelWait()
		srv.Close()
		closeStore()
		cancel()
		handle.err = err
	}()

	return handle, nil
}

func openAuditStore(ctx context.Context, path string) (*storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	store, err := storage.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func relayOptions(cfg ServerConfig, store *storage.Store, metrics *relay.Metrics) []relay.Option {
	opts := []relay.Option{
		relay.WithLogger(cfg.Logger),
		relay.WithMetrics(metrics),
		relay.WithAcceptLimit(cfg.AcceptBurst, cfg.AcceptWindow),
		relay.WithWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.MaxConns > 0 {
		opts = append(opts, relay.WithMaxConns(cfg.MaxConns))
	}
	if cfg.HubCapacity > 0 {
		opts = append(opts, relay.WithHubCapacity(cfg.HubCapacity))
	}
	if cfg.MaxLineBytes > 0 {
		opts = append(opts, relay.WithMaxLineBytes(cfg.MaxLineBytes))
	}
	if store != nil {
		opts = append(opts, relay.WithAuditor(store))
	}
	return opts
}

func newMux(ctx context.Context, wsPath string, srv *relay.Server, metrics *relay.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(wsPath, srv.WebSocketHandler(ctx))
	mux.Handle("/metrics", metrics)
	return mux
}
