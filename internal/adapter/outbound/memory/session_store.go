// Package memory provides an in-memory implementation of the session
// store port. Thread-safe for concurrent access. For development and
// testing only; production deployments use the Redis or SQLite adapters.
package memory

import (
	"context"
	"sync"

	"github.com/partsbay/sessiond/internal/domain/session"
)

// watchBuffer is the per-subscriber event buffer. A subscriber that
// falls this far behind loses its subscription (channel closed), which
// callers treat as a reconcile signal, not an eviction.
const watchBuffer = 8

// SessionStore implements session.Store with an in-memory map and a
// per-key watch hub.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	watchers map[string][]*watcher
}

type watcher struct {
	ch     chan session.WatchEvent
	cancel context.CancelFunc
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session.Session),
		watchers: make(map[string][]*watcher),
	}
}

// Put creates or overwrites a session record and notifies watchers.
func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cp := copySession(sess)
	s.sessions[sess.ID] = cp
	s.notifyLocked(sess.ID, session.WatchEvent{Exists: true, Session: copySession(cp)})
	s.mu.Unlock()
	return nil
}

// Get retrieves a session by ID.
// Returns session.ErrSessionNotFound if the record doesn't exist.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	// Return a copy to prevent mutation.
	return copySession(sess), nil
}

// Delete removes a session and delivers the deletion event to watchers.
// Deleting an absent record is a no-op and delivers nothing.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		s.notifyLocked(id, session.WatchEvent{Exists: false})
	}
	s.mu.Unlock()
	return nil
}

// Scan returns all sessions owned by an account.
func (s *SessionStore) Scan(ctx context.Context, accountID string) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.AccountID == accountID {
			out = append(out, copySession(sess))
		}
	}
	return out, nil
}

// ScanAll returns every session in the store.
func (s *SessionStore) ScanAll(ctx context.Context) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	return out, nil
}

// Watch subscribes to changes of one session record. The channel closes
// when ctx is cancelled or the subscriber falls too far behind.
func (s *SessionStore) Watch(ctx context.Context, id string) (<-chan session.WatchEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{ch: make(chan session.WatchEvent, watchBuffer), cancel: cancel}

	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], w)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.removeWatcherLocked(id, w)
		s.mu.Unlock()
		close(w.ch)
	}()

	return w.ch, nil
}

// notifyLocked fans an event out to the key's watchers. Callers hold mu.
// A full subscriber buffer drops the subscription rather than blocking
// store mutations.
func (s *SessionStore) notifyLocked(id string, ev session.WatchEvent) {
	for _, w := range s.watchers[id] {
		select {
		case w.ch <- ev:
		default:
			w.cancel()
		}
	}
}

// removeWatcherLocked unlinks one watcher from the key's list. Callers
// hold mu.
func (s *SessionStore) removeWatcherLocked(id string, target *watcher) {
	list := s.watchers[id]
	for i, w := range list {
		if w == target {
			s.watchers[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
}

// Size returns the number of sessions currently stored.
// Useful for health checks and tests.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copySession creates a deep copy of a session.
func copySession(sess *session.Session) *session.Session {
	cp := *sess
	return &cp
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
