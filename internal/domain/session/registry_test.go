package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// mockStore is a simple in-memory mock for testing. scanErr, when set,
// makes Scan fail to exercise the fail-closed path.
type mockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	scanErr  error
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]*Session)}
}

func (m *mockStore) Put(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *mockStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockStore) Scan(ctx context.Context, accountID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []*Session
	for _, sess := range m.sessions {
		if sess.AccountID == accountID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ScanAll(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []*Session
	for _, sess := range m.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) Watch(ctx context.Context, id string) (<-chan WatchEvent, error) {
	ch := make(chan WatchEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seed creates a session with the given last-activity offset in seconds
// from a fixed base time.
func seed(t *testing.T, store *mockStore, id, account string, activityOffset int) {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{
		ID:           id,
		AccountID:    account,
		CreatedAt:    base.Add(time.Duration(activityOffset) * time.Second),
		LastActivity: base.Add(time.Duration(activityOffset) * time.Second),
	}
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatalf("Put(%s) error: %v", id, err)
	}
}

func TestRegistry_Admit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		seedIDs   map[string]int // id -> activity offset seconds
		exclude   string
		want      Outcome
		wantEvict []string
	}{
		{
			name:    "empty account admits",
			seedIDs: map[string]int{},
			want:    Admit,
		},
		{
			name:    "two of three slots used admits",
			seedIDs: map[string]int{"s1": 0, "s2": 10},
			want:    Admit,
		},
		{
			name:      "full account evicts oldest",
			seedIDs:   map[string]int{"s1": 0, "s2": 10, "s3": 20},
			want:      EvictThenAdmit,
			wantEvict: []string{"s1"},
		},
		{
			name:      "overshoot evicts enough to leave one slot",
			seedIDs:   map[string]int{"s1": 0, "s2": 10, "s3": 20, "s4": 30},
			want:      EvictThenAdmit,
			wantEvict: []string{"s1", "s2"},
		},
		{
			name:    "own session excluded from count",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20},
			exclude: "s2",
			want:    Admit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			for id, off := range tt.seedIDs {
				seed(t, store, id, "acct-1", off)
			}
			reg := NewRegistry(store, 3, testLogger())

			dec := reg.Admit(context.Background(), "acct-1", tt.exclude)
			if dec.Outcome != tt.want {
				t.Fatalf("Admit() outcome = %v, want %v", dec.Outcome, tt.want)
			}
			if len(dec.Evict) != len(tt.wantEvict) {
				t.Fatalf("Admit() evict count = %d, want %d", len(dec.Evict), len(tt.wantEvict))
			}
			for i, want := range tt.wantEvict {
				if dec.Evict[i].ID != want {
					t.Errorf("Evict[%d] = %q, want %q", i, dec.Evict[i].ID, want)
				}
			}
		})
	}
}

func TestRegistry_AdmitFailsClosedOnScanError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.scanErr = errors.New("store unreachable")
	reg := NewRegistry(store, 3, testLogger())

	dec := reg.Admit(context.Background(), "acct-1", "")
	if dec.Outcome != Reject {
		t.Errorf("Admit() outcome = %v, want Reject", dec.Outcome)
	}
	if len(dec.Evict) != 0 {
		t.Errorf("Admit() evict list = %v, want empty", dec.Evict)
	}
}

func TestRegistry_AdmitTiesBrokenByCreatedAt(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	same := base.Add(time.Minute)
	for _, s := range []*Session{
		{ID: "newer", AccountID: "acct-1", CreatedAt: base.Add(10 * time.Second), LastActivity: same},
		{ID: "older", AccountID: "acct-1", CreatedAt: base, LastActivity: same},
		{ID: "fresh", AccountID: "acct-1", CreatedAt: base, LastActivity: same.Add(time.Hour)},
	} {
		if err := store.Put(context.Background(), s); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}
	reg := NewRegistry(store, 3, testLogger())

	dec := reg.Admit(context.Background(), "acct-1", "")
	if dec.Outcome != EvictThenAdmit {
		t.Fatalf("Admit() outcome = %v, want EvictThenAdmit", dec.Outcome)
	}
	if len(dec.Evict) != 1 || dec.Evict[0].ID != "older" {
		t.Errorf("Evict = %v, want [older]", evictIDs(dec.Evict))
	}
}

func TestRegistry_AdmitSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	seed(t, store, "s1", "acct-1", 0)
	seed(t, store, "s2", "acct-1", 10)
	// Missing timestamps: must not count toward the cap.
	store.sessions["bad"] = &Session{ID: "bad", AccountID: "acct-1"}
	reg := NewRegistry(store, 3, testLogger())

	dec := reg.Admit(context.Background(), "acct-1", "")
	if dec.Outcome != Admit {
		t.Errorf("Admit() outcome = %v, want Admit (malformed record counted)", dec.Outcome)
	}
}

func TestRegistry_Verify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seedIDs map[string]int
		exclude string
		wantErr error
	}{
		{
			name:    "under cap passes",
			seedIDs: map[string]int{"s2": 10, "s3": 20},
		},
		{
			name:    "at cap fails",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20},
			wantErr: ErrStillOverCap,
		},
		{
			name:    "at cap but own session excluded passes",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20},
			exclude: "s3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			for id, off := range tt.seedIDs {
				seed(t, store, id, "acct-1", off)
			}
			reg := NewRegistry(store, 3, testLogger())

			err := reg.Verify(context.Background(), "acct-1", tt.exclude)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_VerifyPropagatesScanError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.scanErr = errors.New("store unreachable")
	reg := NewRegistry(store, 3, testLogger())

	if err := reg.Verify(context.Background(), "acct-1", ""); err == nil {
		t.Error("Verify() error = nil, want scan error")
	}
}

func TestRegistry_Overage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seedIDs map[string]int
		exclude string
		want    []string
	}{
		{
			name:    "within cap returns nothing",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20},
		},
		{
			name:    "one over cap returns the oldest",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20, "s4": 30},
			want:    []string{"s1"},
		},
		{
			name:    "own session never a victim",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20, "s4": 30},
			exclude: "s1",
			want:    []string{"s2"},
		},
		{
			name:    "two over cap returns the two oldest",
			seedIDs: map[string]int{"s1": 0, "s2": 10, "s3": 20, "s4": 30, "s5": 40},
			want:    []string{"s1", "s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			for id, off := range tt.seedIDs {
				seed(t, store, id, "acct-1", off)
			}
			reg := NewRegistry(store, 3, testLogger())

			victims, err := reg.Overage(context.Background(), "acct-1", tt.exclude)
			if err != nil {
				t.Fatalf("Overage() error: %v", err)
			}
			got := evictIDs(victims)
			if len(got) != len(tt.want) {
				t.Fatalf("Overage() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Overage()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func evictIDs(sessions []*Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}
