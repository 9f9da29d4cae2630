// Package notify implements the sign-out notifier port.
package notify

import (
	"log/slog"

	"github.com/partsbay/sessiond/internal/port/outbound"
)

// LogNotifier surfaces sign-out events through the structured log. A
// headless agent has no UI; the log line is the user-visible signal,
// and the reason label tells an operator whether the sign-out was a
// plain logout or an eviction by a newer session elsewhere.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier writing to the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SignedOut records that this client's session ended.
func (n *LogNotifier) SignedOut(reason outbound.SignOutReason) {
	if reason == outbound.ReasonSessionLimit {
		n.logger.Warn("signed out: session limit exceeded, a newer login replaced this session",
			"reason", string(reason))
		return
	}
	n.logger.Info("signed out", "reason", string(reason))
}

// Compile-time interface verification.
var _ outbound.Notifier = (*LogNotifier)(nil)
