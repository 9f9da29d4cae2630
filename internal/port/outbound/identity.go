// Package outbound defines the outbound port interfaces for external
// collaborators: the identity provider and the user-visible notifier.
package outbound

import "context"

// AuthEvent is one delivery from the identity provider's auth-state
// stream. An empty AccountID means the credential was revoked or the
// user signed out.
type AuthEvent struct {
	AccountID string
}

// SignedIn reports whether the event carries an authenticated account.
func (e AuthEvent) SignedIn() bool {
	return e.AccountID != ""
}

// IdentityProvider is the outbound port for the external identity
// provider. Credential verification itself is its business; the session
// core only consumes its auth-state stream and asks it to revoke the
// credential on forced sign-out.
type IdentityProvider interface {
	// Events returns the auth-state stream. Subscribed once per client
	// process lifetime; the channel closes when the provider shuts down.
	Events() <-chan AuthEvent

	// SignOut revokes the current credential. Called during session
	// termination; idempotent.
	SignOut(ctx context.Context) error
}
