// Package service orchestrates the client-side session lifecycle:
// admission on every authentication event, heartbeat and live watch
// while active, and forced sign-out when the session is evicted.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/partsbay/sessiond/internal/adapter/outbound/state"
	"github.com/partsbay/sessiond/internal/domain/session"
	"github.com/partsbay/sessiond/internal/port/outbound"
)

// State is the lifecycle phase of this client process.
type State int

const (
	StateUnauthenticated State = iota
	StateReconciling
	StateActive
	StateTerminating
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateReconciling:
		return "reconciling"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultHeartbeatInterval is how often an active client refreshes its
// session's LastActivity.
const DefaultHeartbeatInterval = 60 * time.Second

// DefaultOpTimeout bounds every individual store operation. The store
// itself has no timeout; we fail closed when one elapses.
const DefaultOpTimeout = 5 * time.Second

// maxHeartbeatFailures is how many consecutive transient heartbeat
// errors are tolerated before the client's session validity is treated
// as unknown and the client is forced out.
const maxHeartbeatFailures = 3

// ErrNotSignedIn is returned by Reconcile when no account is set.
var ErrNotSignedIn = errors.New("no authenticated account")

// Lifecycle drives one client's session through
// Unauthenticated → Reconciling → Active → Terminating.
//
// Reconcile is re-entrant and idempotent: it may be invoked on every
// auth event, at process start, and on watch reconnect, and always
// converges to the same Active/Terminating outcome for the same store
// state. Concurrent invocations collapse into one in-flight attempt.
type Lifecycle struct {
	store    session.Store
	registry *session.Registry
	local    *state.FileStateStore
	provider outbound.IdentityProvider
	notifier outbound.Notifier
	metrics  *Metrics
	logger   *slog.Logger

	clientInfo     string
	heartbeatEvery time.Duration
	opTimeout      time.Duration

	mu           sync.Mutex
	st           State
	gen          uint64 // bumped on every termination; stale goroutines check it
	accountID    string
	sessionID    string
	inFlight     bool
	cancelActive context.CancelFunc
	wg           sync.WaitGroup
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithHeartbeatInterval sets the heartbeat refresh interval.
func WithHeartbeatInterval(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.heartbeatEvery = d
		}
	}
}

// WithOpTimeout sets the per-operation store timeout.
func WithOpTimeout(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.opTimeout = d
		}
	}
}

// WithClientInfo sets the descriptive string recorded on created
// sessions (user agent or equivalent).
func WithClientInfo(info string) LifecycleOption {
	return func(l *Lifecycle) {
		l.clientInfo = info
	}
}

// NewLifecycle creates a Lifecycle controller. The notifier may be nil
// when no user-visible signal is wired (tests).
func NewLifecycle(
	store session.Store,
	registry *session.Registry,
	local *state.FileStateStore,
	provider outbound.IdentityProvider,
	notifier outbound.Notifier,
	metrics *Metrics,
	logger *slog.Logger,
	opts ...LifecycleOption,
) *Lifecycle {
	l := &Lifecycle{
		store:          store,
		registry:       registry,
		local:          local,
		provider:       provider,
		notifier:       notifier,
		metrics:        metrics,
		logger:         logger,
		heartbeatEvery: DefaultHeartbeatInterval,
		opTimeout:      DefaultOpTimeout,
		st:             StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st
}

// SessionID returns this client's session ID, empty unless Active.
func (l *Lifecycle) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// Run subscribes to the identity provider's auth-state stream and drives
// the lifecycle from it. Blocks until ctx is cancelled or the stream
// closes. On return all background work has stopped; the session record
// is left in place so a restart can adopt it.
func (l *Lifecycle) Run(ctx context.Context) error {
	events := l.provider.Events()
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				l.Close()
				return nil
			}
			if ev.SignedIn() {
				if err := l.SignIn(ctx, ev.AccountID); err != nil {
					l.logger.Warn("sign-in reconciliation failed", "error", err)
				}
			} else {
				l.Logout(ctx)
			}
		}
	}
}

// SignIn records the authenticated account and reconciles. Switching
// accounts terminates the previous account's session first.
func (l *Lifecycle) SignIn(ctx context.Context, accountID string) error {
	l.mu.Lock()
	if l.accountID != "" && l.accountID != accountID {
		gen := l.gen
		l.mu.Unlock()
		l.terminate(gen, outbound.ReasonLogout)
		l.mu.Lock()
	}
	l.accountID = accountID
	l.mu.Unlock()

	return l.Reconcile(ctx)
}

// Logout terminates the current session on explicit user request. The
// session record is deleted from the store. No-op when signed out.
func (l *Lifecycle) Logout(ctx context.Context) {
	l.mu.Lock()
	if l.accountID == "" && l.st == StateUnauthenticated {
		l.mu.Unlock()
		return
	}
	gen := l.gen
	l.mu.Unlock()

	l.terminate(gen, outbound.ReasonLogout)
}

// Reconcile converges this client toward Active or Terminating:
// adopt a still-existing prior session, or run the full admission
// sequence (scan, evict, verify, create). Safe to call repeatedly;
// concurrent calls collapse into the one in-flight attempt.
func (l *Lifecycle) Reconcile(ctx context.Context) error {
	l.mu.Lock()
	if l.accountID == "" {
		l.mu.Unlock()
		return ErrNotSignedIn
	}
	if l.inFlight {
		l.mu.Unlock()
		return nil
	}
	l.inFlight = true
	if l.st != StateActive {
		l.st = StateReconciling
	}
	gen := l.gen
	accountID := l.accountID
	ownID := l.sessionID
	l.mu.Unlock()

	res := l.converge(ctx, accountID, ownID)

	l.mu.Lock()
	l.inFlight = false
	if l.gen != gen {
		l.mu.Unlock()
		// A logout or forced termination raced this attempt. Never
		// resurrect: remove any record the attempt just created.
		if res.ok && !res.adopted {
			l.deleteRecord(res.sessionID)
		}
		return nil
	}
	if !res.ok {
		l.mu.Unlock()
		l.terminate(gen, outbound.ReasonSessionLimit)
		return nil
	}
	l.enterActiveLocked(gen, res.sessionID)
	l.mu.Unlock()
	return nil
}

// Close stops the heartbeat and watch and waits for them to exit,
// without signing out: the session record and local pointer survive so
// the next run of this client can adopt them.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	l.gen++
	cancel := l.cancelActive
	l.cancelActive = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

type convergeResult struct {
	sessionID string
	adopted   bool
	ok        bool
}

// converge performs the store-side reconciliation sequence. It holds no
// locks; the caller re-checks the generation before applying the result.
func (l *Lifecycle) converge(ctx context.Context, accountID, ownID string) convergeResult {
	start := time.Now()
	defer func() {
		l.metrics.AdmissionDuration.Observe(time.Since(start).Seconds())
	}()

	// Prefer the locally persisted pointer: a prior run of this client
	// may still own a live session that already counts toward the cap.
	if ownID == "" {
		if st, err := l.local.Load(); err == nil && !st.Empty() && st.AccountID == accountID {
			ownID = st.SessionID
		}
	}

	if ownID != "" {
		rec, err := l.opGet(ctx, ownID)
		switch {
		case err == nil:
			if rec.Validate() == nil && rec.AccountID == accountID {
				// Already admitted; no admission check needed.
				return convergeResult{sessionID: ownID, adopted: true, ok: true}
			}
			l.logger.Warn("persisted session pointer does not match account, re-admitting",
				"session_id", ownID)
		case errors.Is(err, session.ErrSessionNotFound):
			// Evicted while offline; fall through to full admission.
		default:
			l.logger.Warn("session lookup failed, failing closed",
				"session_id", ownID, "error", err)
			return convergeResult{}
		}
	}

	dec := l.registry.Admit(ctx, accountID, "")
	l.metrics.AdmissionsTotal.WithLabelValues(dec.Outcome.String()).Inc()

	switch dec.Outcome {
	case session.Admit:

	case session.EvictThenAdmit:
		// Best-effort deletes; Verify below is the authoritative check,
		// not the count of successful deletes.
		for _, victim := range dec.Evict {
			if err := l.deleteRecord(victim.ID); err != nil {
				l.logger.Warn("eviction delete failed",
					"session_id", victim.ID, "error", err)
				continue
			}
			l.metrics.EvictionsTotal.Inc()
			l.logger.Info("evicted session",
				"account_id", accountID, "session_id", victim.ID,
				"last_activity", victim.LastActivity)
		}
		if err := l.registry.Verify(ctx, accountID, ""); err != nil {
			l.logger.Warn("post-eviction verification failed, rejecting",
				"account_id", accountID, "error", err)
			return convergeResult{}
		}

	case session.Reject:
		return convergeResult{}
	}

	res := l.createSession(ctx, accountID)
	if res.ok {
		l.trimOverage(ctx, accountID, res.sessionID)
	}
	return res
}

// trimOverage corrects the transient cap overshoot that concurrent
// logins can produce, since admission is not transactional. Runs after
// our own session exists; a scan failure here is non-fatal because any
// other client's next pass (or the reaper) converges the same way.
func (l *Lifecycle) trimOverage(ctx context.Context, accountID, ownID string) {
	victims, err := l.registry.Overage(ctx, accountID, ownID)
	if err != nil {
		l.logger.Warn("overage scan failed, leaving correction to the next pass",
			"account_id", accountID, "error", err)
		return
	}
	for _, victim := range victims {
		if err := l.deleteRecord(victim.ID); err != nil {
			l.logger.Warn("overage delete failed",
				"session_id", victim.ID, "error", err)
			continue
		}
		l.metrics.EvictionsTotal.Inc()
		l.logger.Info("evicted session over cap",
			"account_id", accountID, "session_id", victim.ID)
	}
}

// createSession writes a fresh session record and persists the pointer
// locally. A local persistence failure is non-fatal: it only costs a
// re-admission on the next process start.
func (l *Lifecycle) createSession(ctx context.Context, accountID string) convergeResult {
	id, err := session.GenerateID()
	if err != nil {
		l.logger.Error("session ID generation failed", "error", err)
		return convergeResult{}
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:           id,
		AccountID:    accountID,
		CreatedAt:    now,
		LastActivity: now,
		ClientInfo:   l.clientInfo,
	}

	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	if err := l.store.Put(opCtx, sess); err != nil {
		l.logger.Warn("session create failed", "account_id", accountID, "error", err)
		return convergeResult{}
	}

	if err := l.local.Save(&state.ClientState{SessionID: id, AccountID: accountID}); err != nil {
		l.logger.Warn("failed to persist session pointer", "error", err)
	}

	l.logger.Info("session created", "account_id", accountID, "session_id", id)
	return convergeResult{sessionID: id, ok: true}
}

// enterActiveLocked transitions to Active and starts the heartbeat and
// watch, unless they are already running for the same session. Callers
// hold mu.
func (l *Lifecycle) enterActiveLocked(gen uint64, sessID string) {
	if l.st == StateActive && l.sessionID == sessID && l.cancelActive != nil {
		return // fast path: repeat reconcile of a live session
	}
	if l.cancelActive != nil {
		l.cancelActive()
	}

	l.st = StateActive
	l.sessionID = sessID

	actCtx, cancel := context.WithCancel(context.Background())
	l.cancelActive = cancel

	l.wg.Add(2)
	go l.heartbeatLoop(actCtx, gen, sessID)
	go l.watchLoop(actCtx, gen, sessID)

	l.metrics.SessionActive.Set(1)
	l.logger.Info("session active", "session_id", sessID)
}

// heartbeatLoop refreshes LastActivity every interval. It beats once
// immediately: the first beat doubles as an existence check right after
// admission, covering the race where a concurrent login evicted us
// between our verify and now.
func (l *Lifecycle) heartbeatLoop(ctx context.Context, gen uint64, sessID string) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.heartbeatEvery)
	defer ticker.Stop()

	failures := 0
	for {
		if !l.beat(ctx, gen, sessID, &failures) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// beat performs one heartbeat. Returns false when the loop must stop.
// A missing record forces termination immediately (the watch is the
// primary eviction signal, this is the fallback); transient store
// errors force termination only after maxHeartbeatFailures in a row,
// since an unreachable store leaves session validity unknown.
func (l *Lifecycle) beat(ctx context.Context, gen uint64, sessID string, failures *int) bool {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	rec, err := l.store.Get(opCtx, sessID)
	if errors.Is(err, session.ErrSessionNotFound) {
		l.logger.Info("session record gone, terminating", "session_id", sessID)
		l.terminate(gen, outbound.ReasonSessionLimit)
		return false
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		*failures++
		l.metrics.HeartbeatFailures.Inc()
		l.logger.Warn("heartbeat read failed",
			"session_id", sessID, "failures", *failures, "error", err)
		if *failures >= maxHeartbeatFailures {
			l.terminate(gen, outbound.ReasonSessionLimit)
			return false
		}
		return true
	}

	rec.Touch(time.Now().UTC())
	if err := l.store.Put(opCtx, rec); err != nil {
		if ctx.Err() != nil {
			return false
		}
		*failures++
		l.metrics.HeartbeatFailures.Inc()
		l.logger.Warn("heartbeat write failed",
			"session_id", sessID, "failures", *failures, "error", err)
		if *failures >= maxHeartbeatFailures {
			l.terminate(gen, outbound.ReasonSessionLimit)
			return false
		}
		return true
	}

	*failures = 0
	l.metrics.HeartbeatsTotal.Inc()
	return true
}

// watchLoop holds the live subscription on this client's own record and
// terminates on a delivered deletion. This is the primary, low-latency
// eviction-notification path.
func (l *Lifecycle) watchLoop(ctx context.Context, gen uint64, sessID string) {
	defer l.wg.Done()

	events, err := l.store.Watch(ctx, sessID)
	if err != nil {
		l.logger.Warn("watch unavailable, relying on heartbeat",
			"session_id", sessID, "error", err)
		return
	}

	for ev := range events {
		if !ev.Exists {
			l.logger.Info("session evicted remotely", "session_id", sessID)
			l.terminate(gen, outbound.ReasonSessionLimit)
			return
		}
	}

	// Subscription dropped without cancellation: reconcile to re-install
	// the watch (or converge to termination if the record is gone). The
	// heartbeat alone is sufficient for correctness in the meantime.
	if ctx.Err() == nil && l.currentGen() == gen {
		l.logger.Warn("watch subscription dropped, reconciling", "session_id", sessID)
		if err := l.Reconcile(context.Background()); err != nil {
			l.logger.Warn("reconcile after watch drop failed", "error", err)
		}
	}
}

// terminate moves the given generation to Terminating and then to
// Unauthenticated: stop heartbeat and watch, delete the session record,
// clear the local pointer, revoke the credential, and emit exactly one
// user-visible notification. A stale generation is ignored, so a late
// heartbeat or watch event can never kill a newer session.
func (l *Lifecycle) terminate(gen uint64, reason outbound.SignOutReason) {
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		return
	}
	l.gen++
	l.st = StateTerminating
	sessID := l.sessionID
	l.sessionID = ""
	l.accountID = ""
	cancel := l.cancelActive
	l.cancelActive = nil
	l.mu.Unlock()

	l.logger.Info("terminating session", "session_id", sessID, "reason", string(reason))

	if cancel != nil {
		cancel()
	}

	ctx, cancelOp := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancelOp()

	// On eviction the record is already gone and this is a no-op; it
	// also cleans up a heartbeat write that raced the eviction.
	if sessID != "" {
		if err := l.store.Delete(ctx, sessID); err != nil {
			l.logger.Warn("session delete failed", "session_id", sessID, "error", err)
		}
	}
	if err := l.local.Clear(); err != nil {
		l.logger.Warn("failed to clear session pointer", "error", err)
	}
	if err := l.provider.SignOut(ctx); err != nil {
		l.logger.Warn("credential revocation failed", "error", err)
	}
	if l.notifier != nil {
		l.notifier.SignedOut(reason)
	}
	l.metrics.SessionActive.Set(0)
	l.metrics.SignOutsTotal.WithLabelValues(string(reason)).Inc()

	l.mu.Lock()
	l.st = StateUnauthenticated
	l.mu.Unlock()
}

func (l *Lifecycle) currentGen() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// opGet performs a single bounded read of a session record.
func (l *Lifecycle) opGet(ctx context.Context, id string) (*session.Session, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	return l.store.Get(opCtx, id)
}

// deleteRecord is a best-effort bounded delete used for evictions and
// for cleaning up records created by a raced reconcile attempt.
func (l *Lifecycle) deleteRecord(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
	defer cancel()
	return l.store.Delete(ctx, id)
}
