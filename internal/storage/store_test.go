package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	sess := Session{
		ID:           "s-1",
		RemoteAddr:   "127.0.0.1:50000",
		Transport:    "tcp",
		FallbackName: "Anonymous42",
		ConnectedAt:  start,
	}
	if err := store.StartSession(ctx, sess); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := store.StartSession(ctx, sess); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	got, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.FallbackName != "Anonymous42" || got.DisconnectedAt.Valid {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.ConnectedAt.Equal(start) {
		t.Fatalf("connected_at = %v, want %v", got.ConnectedAt, start)
	}

	if err := store.EndSession(ctx, "s-1", start.Add(time.Minute), 3, 7); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, err = store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession after end: %v", err)
	}
	if !got.DisconnectedAt.Valid || got.LinesIn != 3 || got.LinesOut != 7 {
		t.Fatalf("unexpected ended session: %+v", got)
	}

	if err := store.EndSession(ctx, "missing", time.Now(), 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUploads(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.StartSession(ctx, Session{ID: "s-1", RemoteAddr: "a", Transport: "tcp", FallbackName: "x", ConnectedAt: now}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i, name := range []string{"a.txt", "b.txt"} {
		_, err := store.RecordUpload(ctx, Upload{
			SessionID:    "s-1",
			FileName:     name,
			DeclaredSize: 10,
			ByteLen:      10,
			UploaderName: "Alice",
			UploaderID:   "id",
			Digest:       "abc",
			ObservedAt:   now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordUpload %s: %v", name, err)
		}
	}
	if _, err := store.RecordUpload(ctx, Upload{SessionID: "ghost", FileName: "c", ObservedAt: now}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
	}

	uploads, err := store.ListUploads(ctx, 10)
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(uploads) != 2 || uploads[0].FileName != "b.txt" {
		t.Fatalf("unexpected uploads: %+v", uploads)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		sess := Session{ID: id, RemoteAddr: "a", Transport: "ws", FallbackName: "x", ConnectedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.StartSession(ctx, sess); err != nil {
			t.Fatalf("StartSession %s: %v", id, err)
		}
	}
	sessions, err := store.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "mid" {
		t.Fatalf("unexpected order: %+v", sessions)
	}
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.StartSession(ctx, Session{ID: "s", RemoteAddr: "a", Transport: "tcp", FallbackName: "x", ConnectedAt: time.Now()}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Migrate(ctx); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}
	if _, err := reopened.GetSession(ctx, "s"); err != nil {
		t.Fatalf("GetSession after reopen: %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	cases := map[string]string{
		"audit.db":                    "file:audit.db?_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
		"sqlite://file:x?mode=memory": "file:x?mode=memory&_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
		":memory:":                    ":memory:?_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
	}
	for in, want := range cases {
		if got := buildDSN(in); got != want {
			t.Errorf("buildDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
