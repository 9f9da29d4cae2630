// Package sqlite implements the session store port on a local SQLite
// database. Single-writer deployments that want durability without a
// server. SQLite has no change feed, so Watch polls the row at a fixed
// interval; the poll period bounds eviction-detection latency.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/partsbay/sessiond/internal/domain/session"
)

// DefaultPollInterval is how often Watch re-reads the observed row.
const DefaultPollInterval = 2 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	last_activity INTEGER NOT NULL,
	client_info   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions (account_id);
`

// SessionStore implements session.Store on SQLite.
type SessionStore struct {
	db     *sql.DB
	poll   time.Duration
	logger *slog.Logger
}

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithPollInterval overrides how often Watch polls for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *SessionStore) {
		if d > 0 {
			s.poll = d
		}
	}
}

// NewSessionStore opens (or creates) the database at path and ensures
// the schema exists.
func NewSessionStore(path string, logger *slog.Logger, opts ...Option) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SessionStore{db: db, poll: DefaultPollInterval, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Put creates or overwrites a session record.
func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, created_at, last_activity, client_info)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			account_id    = excluded.account_id,
			last_activity = excluded.last_activity,
			client_info   = excluded.client_info`,
		sess.ID, sess.AccountID,
		sess.CreatedAt.UnixNano(), sess.LastActivity.UnixNano(), sess.ClientInfo)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
// Returns session.ErrSessionNotFound if the row doesn't exist.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, created_at, last_activity, client_info
		FROM sessions WHERE id = ?`, id)
	sess, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Delete removes a session. Deleting an absent row is a no-op.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Scan returns all sessions owned by an account.
func (s *SessionStore) Scan(ctx context.Context, accountID string) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, created_at, last_activity, client_info
		FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return collectRows(rows)
}

// ScanAll returns every session in the store.
func (s *SessionStore) ScanAll(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, created_at, last_activity, client_info
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("scan all sessions: %w", err)
	}
	return collectRows(rows)
}

// Watch polls the row and emits an event whenever it changes or
// disappears. The channel closes when ctx is cancelled.
func (s *SessionStore) Watch(ctx context.Context, id string) (<-chan session.WatchEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Baseline is taken before returning so a mutation racing the first
	// poll is never missed.
	last, known := s.snapshot(ctx, id)

	out := make(chan session.WatchEvent)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cur, ok := s.snapshot(ctx, id)
			if ok == known && !changed(last, cur) {
				continue
			}
			known, last = ok, cur

			ev := session.WatchEvent{Exists: ok, Session: cur}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// snapshot reads the current row, treating any error as absence. A
// transient read failure shows up as a deletion event; the lifecycle's
// reconcile handles that the same way as a real eviction.
func (s *SessionStore) snapshot(ctx context.Context, id string) (*session.Session, bool) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) && ctx.Err() == nil {
			s.logger.Warn("watch poll failed", "session_id", id, "error", err)
		}
		return nil, false
	}
	return sess, true
}

func changed(a, b *session.Session) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return !a.LastActivity.Equal(b.LastActivity) || a.AccountID != b.AccountID
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*session.Session, error) {
	var (
		sess                  session.Session
		createdNS, activityNS int64
	)
	if err := row.Scan(&sess.ID, &sess.AccountID, &createdNS, &activityNS, &sess.ClientInfo); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(0, createdNS).UTC()
	sess.LastActivity = time.Unix(0, activityNS).UTC()
	return &sess, nil
}

func collectRows(rows *sql.Rows) ([]*session.Session, error) {
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return sessions, nil
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
