// Package identity provides identity-provider adapters. The real
// marketplace delegates credential verification to a hosted provider;
// the static adapter stands in for it in the CLI agent, emitting one
// signed-in event at start and a signed-out event when released.
package identity

import (
	"context"
	"sync"

	"github.com/partsbay/sessiond/internal/port/outbound"
)

// StaticProvider emits a fixed account's auth events. SignOut (or Close)
// emits the signed-out event and ends the stream.
type StaticProvider struct {
	events chan outbound.AuthEvent
	once   sync.Once
}

// NewStaticProvider creates a provider already signed in as accountID.
func NewStaticProvider(accountID string) *StaticProvider {
	p := &StaticProvider{events: make(chan outbound.AuthEvent, 2)}
	p.events <- outbound.AuthEvent{AccountID: accountID}
	return p
}

// Events returns the auth-state stream.
func (p *StaticProvider) Events() <-chan outbound.AuthEvent {
	return p.events
}

// SignOut revokes the credential: emits the signed-out event and closes
// the stream. Idempotent.
func (p *StaticProvider) SignOut(ctx context.Context) error {
	p.Close()
	return nil
}

// Close ends the stream without an explicit sign-out request. Safe to
// call multiple times.
func (p *StaticProvider) Close() {
	p.once.Do(func() {
		p.events <- outbound.AuthEvent{}
		close(p.events)
	})
}

// Compile-time interface verification.
var _ outbound.IdentityProvider = (*StaticProvider)(nil)
