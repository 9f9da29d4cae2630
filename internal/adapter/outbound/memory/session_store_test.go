package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/partsbay/sessiond/internal/domain/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(id, account string) *session.Session {
	now := time.Now().UTC()
	return &session.Session{
		ID:           id,
		AccountID:    account,
		CreatedAt:    now,
		LastActivity: now,
		ClientInfo:   "test-agent",
	}
}

func TestSessionStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	sess := newSession("sess-1", "acct-1")
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "sess-1" || got.AccountID != "acct-1" {
		t.Errorf("Get() = %+v, want sess-1/acct-1", got)
	}

	// Mutating the returned copy must not affect the stored record.
	got.AccountID = "tampered"
	again, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if again.AccountID != "acct-1" {
		t.Errorf("stored AccountID = %q, want %q", again.AccountID, "acct-1")
	}
}

func TestSessionStore_GetNonExistent(t *testing.T) {
	store := NewSessionStore()

	_, err := store.Get(context.Background(), "nonexistent")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	if err := store.Put(ctx, newSession("sess-1", "acct-1")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("second Delete() error: %v, want nil", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_ScanFiltersByAccount(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	for _, s := range []*session.Session{
		newSession("a-1", "acct-a"),
		newSession("a-2", "acct-a"),
		newSession("b-1", "acct-b"),
	} {
		if err := store.Put(ctx, s); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	got, err := store.Scan(ctx, "acct-a")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Scan(acct-a) returned %d sessions, want 2", len(got))
	}

	all, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ScanAll() returned %d sessions, want 3", len(all))
	}
}

func TestSessionStore_WatchDeliversDeletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewSessionStore()

	if err := store.Put(ctx, newSession("sess-1", "acct-1")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	events, err := store.Watch(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("watch channel closed before delivering deletion")
		}
		if ev.Exists {
			t.Errorf("event.Exists = true, want false for deletion")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deletion event")
	}
}

func TestSessionStore_WatchClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewSessionStore()

	events, err := store.Watch(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after cancel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch channel to close")
	}
}

func TestSessionStore_WatchIgnoresOtherKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewSessionStore()

	events, err := store.Watch(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	if err := store.Put(ctx, newSession("sess-2", "acct-1")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := store.Delete(ctx, "sess-2"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected event for other key: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
