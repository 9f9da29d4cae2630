package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/partsbay/sessiond/internal/domain/session"
)

// Reaper sweeps sessions abandoned by crashes or force-closes that never
// issued an explicit logout. Best-effort: it may run from any client or
// a scheduled job, and per-session failures are retried next cycle.
type Reaper struct {
	store      session.Store
	staleAfter time.Duration
	opTimeout  time.Duration
	metrics    *Metrics
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithReaperOpTimeout sets the per-operation store timeout.
func WithReaperOpTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.opTimeout = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

// NewReaper creates a Reaper with the default 24h staleness threshold.
func NewReaper(store session.Store, metrics *Metrics, logger *slog.Logger, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:      store,
		staleAfter: session.StaleAfter,
		opTimeout:  DefaultOpTimeout,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SweepAccount removes stale sessions for one account. Returns the
// number reaped. A scan failure is returned to the caller, who logs and
// retries next cycle; it is never fatal.
func (r *Reaper) SweepAccount(ctx context.Context, accountID string) (int, error) {
	sessions, err := r.store.Scan(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return r.reap(ctx, sessions), nil
}

// SweepAll removes stale sessions across every account.
func (r *Reaper) SweepAll(ctx context.Context) (int, error) {
	sessions, err := r.store.ScanAll(ctx)
	if err != nil {
		return 0, err
	}
	return r.reap(ctx, sessions), nil
}

// Run sweeps globally on the given interval until ctx is cancelled.
// Scan failures are logged and skipped for the cycle.
func (r *Reaper) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := r.SweepAll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("reaper sweep failed, will retry next cycle", "error", err)
				continue
			}
			if reaped > 0 {
				r.logger.Info("reaper cycle complete", "reaped", reaped)
			}
		}
	}
}

// reap deletes every stale session in the snapshot. Sessions younger
// than the threshold are never deleted, however idle they look.
// Malformed records are left alone: without trustworthy timestamps we
// cannot prove staleness.
func (r *Reaper) reap(ctx context.Context, sessions []*session.Session) int {
	now := r.now()
	reaped := 0
	for _, sess := range sessions {
		if err := sess.Validate(); err != nil {
			r.logger.Warn("reaper skipping malformed record", "error", err)
			continue
		}
		if now.Sub(sess.LastActivity) <= r.staleAfter {
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
		err := r.store.Delete(opCtx, sess.ID)
		cancel()
		if err != nil {
			r.logger.Warn("reaper delete failed",
				"session_id", sess.ID, "account_id", sess.AccountID, "error", err)
			continue
		}

		reaped++
		r.metrics.ReapedTotal.Inc()
		r.logger.Info("reaped stale session",
			"session_id", sess.ID, "account_id", sess.AccountID,
			"last_activity", sess.LastActivity)
	}
	return reaped
}
