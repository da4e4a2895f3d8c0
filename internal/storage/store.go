// Package storage keeps the optional audit trail of a relay: which connections
// came and went and which uploads passed through. Message bodies and file
// bytes are never written.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// Store wraps the SQLite handle and exposes helper methods used by the relay.
type Store struct {
	db *sql.DB
}

// Session is one accepted connection.
type Session struct {
	ID             string
	RemoteAddr     string
	Transport      string
	FallbackName   string
	ConnectedAt    time.Time
	DisconnectedAt sql.NullTime
	LinesIn        int64
	LinesOut       int64
}

// Upload is the metadata of a file message a session sent to the hub.
type Upload struct {
	ID           int64
	SessionID    string
	FileName     string
	DeclaredSize int64
	ByteLen      int64
	UploaderName string
	UploaderID   string
	Digest       string
	ObservedAt   time.Time
}

// ErrSessionExists is returned when a session id is recorded twice.
var ErrSessionExists = errors.New("session already exists")

// ErrNotFound is returned when the referenced session does not exist.
var ErrNotFound = errors.New("not found")

// NewStore opens the SQLite database at path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "linechat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) (err error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL,
			transport TEXT NOT NULL,
			fallback_name TEXT NOT NULL,
			connected_at DATETIME NOT NULL,
			disconnected_at DATETIME,
			lines_in INTEGER NOT NULL DEFAULT 0,
			lines_out INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			declared_size INTEGER NOT NULL,
			byte_len INTEGER NOT NULL,
			uploader_name TEXT NOT NULL,
			uploader_id TEXT NOT NULL,
			digest TEXT NOT NULL,
			observed_at DATETIME NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS uploads_session_idx ON uploads(session_id);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StartSession records a freshly accepted connection.
func (s *Store) StartSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, remote_addr, transport, fallback_name, connected_at) VALUES(?, ?, ?, ?, ?)`,
		sess.ID, sess.RemoteAddr, sess.Transport, sess.FallbackName, sess.ConnectedAt.UTC())
	if err != nil && isConstraintError(err) {
		return ErrSessionExists
	}
	return err
}

// EndSession stamps the disconnect time and the final line counters.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time, linesIn, linesOut int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET disconnected_at=?, lines_in=?, lines_out=? WHERE id=?`,
		at.UTC(), linesIn, linesOut, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, remote_addr, transport, fallback_name, connected_at, disconnected_at, lines_in, lines_out
		FROM sessions WHERE id = ?`, id)
	var sess Session
	if err := scanSession(row, &sess); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, remote_addr, transport, fallback_name, connected_at, disconnected_at, lines_in, lines_out
		FROM sessions
		ORDER BY connected_at DESC, rowid DESC
		LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RecordUpload stores upload metadata for an existing session.
func (s *Store) RecordUpload(ctx context.Context, up Upload) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads(session_id, file_name, declared_size, byte_len, uploader_name, uploader_id, digest, observed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		up.SessionID, up.FileName, up.DeclaredSize, up.ByteLen, up.UploaderName, up.UploaderID, up.Digest, up.ObservedAt.UTC())
	if err != nil {
		if isConstraintError(err) {
			return 0, fmt.Errorf("upload for session %q: %w", up.SessionID, ErrNotFound)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// ListUploads returns the most recent uploads first.
func (s *Store) ListUploads(ctx context.Context, limit int) ([]Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_name, declared_size, byte_len, uploader_name, uploader_id, digest, observed_at
		FROM uploads
		ORDER BY observed_at DESC, id DESC
		LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var uploads []Upload
	for rows.Next() {
		var up Upload
		if err := rows.Scan(&up.ID, &up.SessionID, &up.FileName, &up.DeclaredSize, &up.ByteLen,
			&up.UploaderName, &up.UploaderID, &up.Digest, &up.ObservedAt); err != nil {
			return nil, err
		}
		uploads = append(uploads, up)
	}
	return uploads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, sess *Session) error {
	return row.Scan(&sess.ID, &sess.RemoteAddr, &sess.Transport, &sess.FallbackName,
		&sess.ConnectedAt, &sess.DisconnectedAt, &sess.LinesIn, &sess.LinesOut)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
