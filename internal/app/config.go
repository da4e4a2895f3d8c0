package app

import (
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Version is reported by `linechat version`.
const Version = "0.1.0"

// DefaultPort is where the relay listens and clients dial unless told otherwise.
const DefaultPort = 6969

// ServerConfig defines how the relay and its optional HTTP side should run.
type ServerConfig struct {
	Bind string
	Port int
	// WSAddr is the HTTP listener for the websocket gateway and /metrics;
	// empty disables it.
	WSAddr string
	WSPath string
	// AuditDB is the SQLite audit database. When empty, Audit selects
	// DefaultAuditDBPath; otherwise auditing is off.
	AuditDB      string
	Audit        bool
	MaxConns     int
	HubCapacity  int
	MaxLineBytes int
	AcceptBurst  int
	AcceptWindow time.Duration
	WriteTimeout time.Duration
	// Logger receives lifecycle logs; nil silences them.
	Logger *log.Logger
}

// ClientConfig defines the parameters an interactive client needs.
type ClientConfig struct {
	ServerAddress string
	Port          int
	Username      string
	DownloadDir   string
	Plain         bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ListenAddr is the TCP address the relay binds.
func (c ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// DialAddr resolves what the client connects to. Websocket URLs are used as
// given; a bare host gets the configured port.
func (c ClientConfig) DialAddr() string {
	addr := strings.TrimSpace(c.ServerAddress)
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(port))
}

// AuditDBPath resolves where sessions are audited, or "" when auditing is off.
func (c ServerConfig) AuditDBPath() string {
	if c.AuditDB != "" {
		return c.AuditDB
	}
	if c.Audit {
		return DefaultAuditDBPath()
	}
	return ""
}

// DefaultAuditDBPath returns a per-user data path for the audit database.
func DefaultAuditDBPath() string {
	if env := os.Getenv("LINECHAT_AUDIT_DB"); env != "" {
		return env
	}
	if env := os.Getenv("LINECHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "audit.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "linechat", "audit.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Linechat", "audit.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Linechat", "audit.db")
		}
		return filepath.Join(home, ".local", "share", "linechat", "audit.db")
	}
	return filepath.Join(".", ".linechat", "audit.db")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
