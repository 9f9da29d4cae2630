package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/partsbay/sessiond/internal/domain/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSessionStore(path, logger, WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func testSession(id, accountID string, activity time.Time) *session.Session {
	return &session.Session{
		ID:           id,
		AccountID:    accountID,
		CreatedAt:    activity.Add(-time.Minute),
		LastActivity: activity,
		ClientInfo:   "test/1.0",
	}
}

func TestSessionStore_PutAndGet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	want := testSession("s1", "alice", now)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccountID != "alice" || got.ClientInfo != "test/1.0" {
		t.Errorf("Get = %+v", got)
	}
	if !got.LastActivity.Equal(now) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, now)
	}
}

func TestSessionStore_PutOverwrites(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	sess := testSession("s1", "alice", now)
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sess.Touch(now.Add(time.Minute))
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastActivity.After(now) {
		t.Errorf("LastActivity not refreshed: %v", got.LastActivity)
	}
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_DeleteIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, testSession("s1", "alice", time.Now().UTC())); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestSessionStore_ScanFiltersByAccount(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, s := range []*session.Session{
		testSession("a1", "alice", now),
		testSession("a2", "alice", now.Add(time.Second)),
		testSession("b1", "bob", now),
	} {
		if err := store.Put(ctx, s); err != nil {
			t.Fatalf("Put %s: %v", s.ID, err)
		}
	}

	got, err := store.Scan(ctx, "alice")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Scan returned %d sessions, want 2", len(got))
	}

	all, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ScanAll returned %d sessions, want 3", len(all))
	}
}

func TestSessionStore_WatchDeliversDeletion(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Put(ctx, testSession("s1", "alice", time.Now().UTC())); err != nil {
		t.Fatalf("Put: %v", err)
	}

	events, err := store.Watch(ctx, "s1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Exists {
			t.Errorf("event = %+v, want deletion", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deletion event")
	}
}

func TestSessionStore_WatchClosesOnCancel(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := store.Watch(ctx, "s1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
