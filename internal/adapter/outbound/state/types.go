// Package state provides file-based persistence for the client's session
// pointer. The file stores exactly the two fields a logged-in client
// needs across restarts: its session ID and the owning account. This
// package provides atomic writes and file locking so concurrent agent
// processes on the same host don't corrupt each other's state.
package state

import "time"

// ClientState is the structure persisted in client.json.
type ClientState struct {
	// SessionID is this client's session in the shared store. Empty when
	// signed out.
	SessionID string `json:"session_id"`

	// AccountID is the account the session belongs to.
	AccountID string `json:"account_id"`

	// UpdatedAt is the last modification timestamp (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// Empty reports whether the state carries no session pointer.
func (s *ClientState) Empty() bool {
	return s == nil || s.SessionID == ""
}
