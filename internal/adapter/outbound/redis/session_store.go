// Package redis implements the session store port on Redis. Records are
// JSON values keyed session:<id>, with a per-account SET index for the
// account scan. Watch is a pub/sub channel per session key; every
// writer goes through this adapter, so self-published events cover all
// mutations without requiring keyspace notifications on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/partsbay/sessiond/internal/domain/session"
)

const (
	sessionKeyPrefix = "session:"
	accountKeyPrefix = "account_sessions:"
	eventChanPrefix  = "session_events:"

	// scanBatch bounds one SCAN page during the global sweep.
	scanBatch = 256
)

// event is the pub/sub payload for one session mutation.
type event struct {
	Deleted bool             `json:"deleted,omitempty"`
	Session *session.Session `json:"session,omitempty"`
}

// SessionStore implements session.Store on Redis.
type SessionStore struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client goredis.UniversalClient, logger *slog.Logger) *SessionStore {
	return &SessionStore{client: client, logger: logger}
}

func sessionKey(id string) string        { return sessionKeyPrefix + id }
func accountKey(accountID string) string { return accountKeyPrefix + accountID }
func eventChannel(id string) string      { return eventChanPrefix + id }

// Put creates or overwrites a session record and maintains the
// per-account index in the same pipeline.
func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, 0)
	pipe.SAdd(ctx, accountKey(sess.AccountID), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	s.publish(ctx, sess.ID, event{Session: sess})
	return nil
}

// Get retrieves a session by ID.
// Returns session.ErrSessionNotFound if the record doesn't exist.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decode(data)
}

// Delete removes a session and its index entry. Deleting an absent
// record is a no-op and publishes nothing.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, accountKey(sess.AccountID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	s.publish(ctx, id, event{Deleted: true})
	return nil
}

// Scan returns all sessions owned by an account: SMEMBERS on the index,
// then a pipelined multi-get. Index entries whose record is gone are
// removed opportunistically.
func (s *SessionStore) Scan(ctx context.Context, accountID string) ([]*session.Session, error) {
	ids, err := s.client.SMembers(ctx, accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("scan account index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	sessions := make([]*session.Session, 0, len(ids))
	var dangling []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				dangling = append(dangling, ids[i])
			}
			continue
		}
		sess, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping undecodable session record",
				"session_id", ids[i], "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(dangling) > 0 {
		if err := s.client.SRem(ctx, accountKey(accountID), dangling...).Err(); err != nil {
			s.logger.Warn("failed to prune dangling index entries",
				"account_id", accountID, "error", err)
		}
	}

	return sessions, nil
}

// ScanAll iterates every session key. Reaper support; O(keyspace), never
// called on a login path.
func (s *SessionStore) ScanAll(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue // deleted between SCAN and GET
			}
			return nil, fmt.Errorf("scan all sessions: %w", err)
		}
		sess, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping undecodable session record",
				"key", iter.Val(), "error", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan all sessions: %w", err)
	}
	return sessions, nil
}

// Watch subscribes to the session's event channel. The returned channel
// closes when ctx is cancelled or the subscription drops.
func (s *SessionStore) Watch(ctx context.Context, id string) (<-chan session.WatchEvent, error) {
	sub := s.client.Subscribe(ctx, eventChannel(id))
	// Force the subscription onto the wire before returning, so no
	// mutation published after Watch returns can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe session events: %w", err)
	}

	out := make(chan session.WatchEvent)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.Warn("undecodable session event",
						"session_id", id, "error", err)
					continue
				}
				we := session.WatchEvent{Exists: !ev.Deleted, Session: ev.Session}
				select {
				case out <- we:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// publish is best-effort: a lost event degrades watch latency, and the
// subscriber's heartbeat still converges.
func (s *SessionStore) publish(ctx context.Context, id string, ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("failed to marshal session event", "session_id", id, "error", err)
		return
	}
	if err := s.client.Publish(ctx, eventChannel(id), data).Err(); err != nil {
		s.logger.Warn("failed to publish session event", "session_id", id, "error", err)
	}
}

// decode parses and validates a stored record.
func decode(data []byte) (*session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
