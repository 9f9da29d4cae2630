package redis

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/partsbay/sessiond/internal/domain/session"
)

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	if got := sessionKey("abc"); got != "session:abc" {
		t.Errorf("sessionKey = %q", got)
	}
	if got := accountKey("alice"); got != "account_sessions:alice" {
		t.Errorf("accountKey = %q", got)
	}
	if got := eventChannel("abc"); got != "session_events:abc" {
		t.Errorf("eventChannel = %q", got)
	}
}

func TestDecodeRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	if _, err := decode([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}

	// Well-formed JSON but an incomplete record.
	if _, err := decode([]byte(`{"id":"only-an-id"}`)); !errors.Is(err, session.ErrMalformedRecord) {
		t.Errorf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := &session.Session{
		ID:           "a1b2c3",
		AccountID:    "alice",
		CreatedAt:    now.Add(-time.Hour),
		LastActivity: now,
		ClientInfo:   "cli/1.0",
	}

	data, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != sess.ID || got.AccountID != sess.AccountID {
		t.Errorf("decode = %+v, want %+v", got, sess)
	}
	if !got.LastActivity.Equal(sess.LastActivity) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, sess.LastActivity)
	}
}

func TestEventPayloads(t *testing.T) {
	t.Parallel()

	deleted, err := json.Marshal(event{Deleted: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var ev event
	if err := json.Unmarshal(deleted, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !ev.Deleted || ev.Session != nil {
		t.Errorf("deleted event = %+v", ev)
	}
}
