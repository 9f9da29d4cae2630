package session

import (
	"context"
	"errors"
)

// Store provides session persistence over a shared, weakly-consistent
// key-value collection. The interface is defined in the domain to avoid
// circular imports. Implementations: Redis (prod), SQLite (single host),
// in-memory (dev/test).
//
// No multi-key transactions are assumed. Per-key operations are assumed
// read-your-own-write consistent; Scan is the least consistent operation
// and callers must re-verify any decision derived from it.
type Store interface {
	// Put creates or overwrites a session record.
	Put(ctx context.Context, sess *Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the record doesn't exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session. Deleting an absent record is a no-op.
	Delete(ctx context.Context, id string) error

	// Scan returns all sessions owned by an account.
	Scan(ctx context.Context, accountID string) ([]*Session, error)

	// ScanAll returns every session in the store. Reaper support only;
	// not used on any login path.
	ScanAll(ctx context.Context) ([]*Session, error)

	// Watch subscribes to changes of one session record. Events are
	// delivered until ctx is cancelled, after which the channel closes.
	// The channel also closes if the underlying subscription drops;
	// callers must treat a close without cancellation as a signal to
	// reconcile, not as an eviction.
	Watch(ctx context.Context, id string) (<-chan WatchEvent, error)
}

// WatchEvent is one delivery from a Store.Watch subscription.
type WatchEvent struct {
	// Exists is false when the watched record was deleted. Deletion is
	// the sole eviction signal.
	Exists bool
	// Session is the record as of this delivery, nil when Exists is false.
	Session *Session
}

// ErrSessionNotFound is returned when a session record doesn't exist.
var ErrSessionNotFound = errors.New("session not found")
