package outbound

// SignOutReason distinguishes the two user-visible termination outcomes.
type SignOutReason string

const (
	// ReasonLogout is a normal, user-initiated sign-out.
	ReasonLogout SignOutReason = "logout"
	// ReasonSessionLimit means this device's session was evicted because
	// the account reached its concurrent-session cap.
	ReasonSessionLimit SignOutReason = "session_limit_exceeded"
)

// Notifier delivers the user-visible sign-out signal. The session core
// emits exactly one notification when termination begins; the device
// limit case must be distinguishable from a normal logout.
type Notifier interface {
	SignedOut(reason SignOutReason)
}
