// Package session implements concurrent-session admission control: each
// account is capped at a fixed number of live sessions, and the oldest
// sessions are evicted to make room for new logins.
package session

import (
	"errors"
	"time"
)

// MaxPerAccount is the number of sessions an account may hold concurrently.
const MaxPerAccount = 3

// StaleAfter is how long a session may go without a heartbeat before the
// reaper considers it abandoned.
const StaleAfter = 24 * time.Hour

// Session is one device's admitted login instance, as stored in the
// shared session store.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	// Primary key in the store.
	ID string `json:"id"`
	// AccountID is the owning account. Set once at creation, never mutated.
	AccountID string `json:"account_id"`
	// CreatedAt is when the session was created (UTC). Immutable.
	CreatedAt time.Time `json:"created_at"`
	// LastActivity is refreshed by the owning client's heartbeat (UTC).
	LastActivity time.Time `json:"last_activity"`
	// ClientInfo is an opaque descriptive string (user agent or equivalent).
	// Informational only.
	ClientInfo string `json:"client_info,omitempty"`
}

// ErrMalformedRecord is returned when a store record is missing required
// fields. Malformed records are logged and skipped, never trusted.
var ErrMalformedRecord = errors.New("malformed session record")

// Validate checks field presence on a record read back from the store.
// Dynamic stores can hand back partial documents; we refuse to reason
// about them.
func (s *Session) Validate() error {
	if s == nil || s.ID == "" || s.AccountID == "" {
		return ErrMalformedRecord
	}
	if s.CreatedAt.IsZero() || s.LastActivity.IsZero() {
		return ErrMalformedRecord
	}
	return nil
}

// IsStale reports whether the session's last heartbeat is older than the
// staleness threshold at the given instant.
func (s *Session) IsStale(now time.Time) bool {
	return now.Sub(s.LastActivity) > StaleAfter
}

// Touch refreshes LastActivity to the given instant. LastActivity is
// monotonically non-decreasing under correct operation, so earlier
// instants are ignored.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// OlderThan reports whether s should be evicted before other: ordered by
// LastActivity ascending, ties broken by CreatedAt ascending.
func (s *Session) OlderThan(other *Session) bool {
	if !s.LastActivity.Equal(other.LastActivity) {
		return s.LastActivity.Before(other.LastActivity)
	}
	return s.CreatedAt.Before(other.CreatedAt)
}
