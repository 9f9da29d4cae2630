package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Outcome classifies an admission decision.
type Outcome int

const (
	// Admit means the account is under the cap; the caller may create or
	// refresh its session without evicting anything.
	Admit Outcome = iota
	// EvictThenAdmit means the caller must delete the sessions listed in
	// Decision.Evict, then re-verify, before creating its own.
	EvictThenAdmit
	// Reject means no session may be created. Returned when the store is
	// unreachable (fail closed) or when re-verification still finds the
	// account over the cap.
	Reject
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case Admit:
		return "admit"
	case EvictThenAdmit:
		return "evict_then_admit"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision is the result of an admission check. It carries no side
// effects: the Registry only decides, the caller performs deletions so
// that partial failures stay visible and retryable.
type Decision struct {
	Outcome Outcome
	// Evict lists the sessions the caller must delete, oldest first.
	// Populated only for EvictThenAdmit.
	Evict []*Session
}

// ErrStillOverCap is returned by Verify when a post-eviction re-scan
// still finds the account at or over the cap. The caller must surface
// Reject rather than create a session; a concurrent login won the race.
var ErrStillOverCap = errors.New("account still at session cap after eviction")

// Registry computes admission decisions over point-in-time snapshots of
// an account's sessions. Pure decision logic; all mutation is the
// caller's responsibility.
type Registry struct {
	store  Store
	max    int
	logger *slog.Logger
}

// NewRegistry creates a Registry enforcing the given cap. A max of 0
// selects MaxPerAccount.
func NewRegistry(store Store, max int, logger *slog.Logger) *Registry {
	if max <= 0 {
		max = MaxPerAccount
	}
	return &Registry{store: store, max: max, logger: logger}
}

// Max returns the enforced per-account cap.
func (r *Registry) Max() int {
	return r.max
}

// Admit decides whether a session for accountID may exist without
// exceeding the cap. excludeID, when non-empty, names a session the
// caller already owns; it does not count against its own admission.
//
// A scan failure yields Reject: never admit on uncertain state.
func (r *Registry) Admit(ctx context.Context, accountID, excludeID string) Decision {
	sessions, err := r.snapshot(ctx, accountID, excludeID)
	if err != nil {
		r.logger.Warn("admission scan failed, rejecting",
			"account_id", accountID, "error", err)
		return Decision{Outcome: Reject}
	}

	if len(sessions) < r.max {
		return Decision{Outcome: Admit}
	}

	// Evict enough to leave room for exactly one new session.
	sortOldestFirst(sessions)
	toEvict := len(sessions) - (r.max - 1)
	return Decision{Outcome: EvictThenAdmit, Evict: sessions[:toEvict]}
}

// Verify re-scans the account after the caller performed the evictions
// from an EvictThenAdmit decision. Returns ErrStillOverCap if the count
// (excluding excludeID) is still at or over the cap, which handles the
// race where a concurrent login created sessions between the scan and
// the eviction. A scan failure is returned as-is; callers fail closed.
func (r *Registry) Verify(ctx context.Context, accountID, excludeID string) error {
	sessions, err := r.snapshot(ctx, accountID, excludeID)
	if err != nil {
		return fmt.Errorf("re-verification scan: %w", err)
	}
	if len(sessions) >= r.max {
		return ErrStillOverCap
	}
	return nil
}

// Overage returns the sessions to delete, oldest first, to bring the
// account back under the cap. The caller's own session (excludeID) is
// never among them: concurrent correctors handle it, and its owner
// learns of its eviction through the watch. Empty when the account is
// within the cap.
//
// Concurrent logins can transiently overshoot the cap because admission
// is not transactional; callers run this once after creating their own
// session so the overshoot is corrected within one reconciliation pass.
func (r *Registry) Overage(ctx context.Context, accountID, excludeID string) ([]*Session, error) {
	all, err := r.snapshot(ctx, accountID, "")
	if err != nil {
		return nil, err
	}
	if len(all) <= r.max {
		return nil, nil
	}

	sortOldestFirst(all)
	overage := len(all) - r.max
	victims := make([]*Session, 0, overage)
	for _, sess := range all {
		if len(victims) == overage {
			break
		}
		if excludeID != "" && sess.ID == excludeID {
			continue
		}
		victims = append(victims, sess)
	}
	return victims, nil
}

// snapshot scans the account's sessions, drops the excluded ID, and
// drops malformed records (logged, never trusted).
func (r *Registry) snapshot(ctx context.Context, accountID, excludeID string) ([]*Session, error) {
	all, err := r.store.Scan(ctx, accountID)
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(all))
	for _, sess := range all {
		if err := sess.Validate(); err != nil {
			r.logger.Warn("skipping malformed session record",
				"account_id", accountID, "error", err)
			continue
		}
		if excludeID != "" && sess.ID == excludeID {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// sortOldestFirst orders sessions by LastActivity ascending, ties broken
// by CreatedAt ascending.
func sortOldestFirst(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].OlderThan(sessions[j])
	})
}
