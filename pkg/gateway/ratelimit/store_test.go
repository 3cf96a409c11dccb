package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/gateway/pkg/cache"
)

// newTestStore returns a store over an in-memory cache with a
// controllable clock. Advance the clock through the returned pointer.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	mem := cache.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(mem)
	store.clock = func() time.Time { return now }
	return store, &now
}

func record(t *testing.T, s *Store, key string, opts *Options, cost float64) {
	t.Helper()
	if err := s.Record(context.Background(), key, opts, cost); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
}

func TestStore_RequestQuota(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	opts := &Options{Quota: 10, Window: time.Minute, Unit: UnitRequest}

	for i := 0; i < 9; i++ {
		record(t, store, "k", opts, 0)
	}

	res := store.Check(ctx, "k", opts)
	if res.Status != StatusOK {
		t.Fatalf("after 9 records: status = %v, want ok", res.Status)
	}
	if res.Remaining != 1 {
		t.Errorf("after 9 records: remaining = %v, want 1", res.Remaining)
	}

	record(t, store, "k", opts, 0)

	res = store.Check(ctx, "k", opts)
	if res.Status != StatusRateLimited {
		t.Fatalf("at quota: status = %v, want rate_limited", res.Status)
	}
	if res.Remaining != 0 {
		t.Errorf("at quota: remaining = %v, want 0", res.Remaining)
	}
	if res.ResetSeconds <= 0 {
		t.Errorf("at quota: reset = %v, want positive", res.ResetSeconds)
	}
	if res.Limit != 10 {
		t.Errorf("limit = %v, want 10", res.Limit)
	}
}

func TestStore_CostQuota(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	opts := &Options{Quota: 8500, Window: 30 * 24 * time.Hour, Unit: UnitCostCents}

	// Record $49.99 + $35.00 = 8499 cents.
	record(t, store, "k", opts, 49.99)
	record(t, store, "k", opts, 35.00)

	res := store.Check(ctx, "k", opts)
	if res.Status != StatusOK {
		t.Fatalf("below quota: status = %v, want ok", res.Status)
	}
	if got := res.Remaining; got < 0.99 || got > 1.01 {
		t.Errorf("below quota: remaining = %v, want ~1", got)
	}

	// One more cent reaches the quota exactly; at-or-above denies.
	record(t, store, "k", opts, 0.01)

	res = store.Check(ctx, "k", opts)
	if res.Status != StatusRateLimited {
		t.Errorf("at quota: status = %v, want rate_limited", res.Status)
	}
	if res.Remaining != 0 {
		t.Errorf("at quota: remaining = %v, want 0", res.Remaining)
	}
}

func TestStore_SlidingWindowExpiry(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()
	opts := &Options{Quota: 10, Window: time.Minute, Unit: UnitRequest}

	for i := 0; i < 10; i++ {
		record(t, store, "k", opts, 0)
	}
	if res := store.Check(ctx, "k", opts); res.Status != StatusRateLimited {
		t.Fatalf("at quota: status = %v, want rate_limited", res.Status)
	}

	// Advance past the window; all entries are stale now.
	*now = now.Add(61 * time.Second)

	res := store.Check(ctx, "k", opts)
	if res.Status != StatusOK {
		t.Fatalf("after window: status = %v, want ok", res.Status)
	}
	if res.Remaining != 10 {
		t.Errorf("after window: remaining = %v, want full quota restored", res.Remaining)
	}
}

func TestStore_RecordPrunesStaleEntries(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()
	opts := &Options{Quota: 10, Window: time.Minute, Unit: UnitRequest}

	record(t, store, "k", opts, 0)
	record(t, store, "k", opts, 0)

	*now = now.Add(2 * time.Minute)
	record(t, store, "k", opts, 0)

	// The two stale entries must not count, and must have been pruned
	// from the written state.
	res := store.Check(ctx, "k", opts)
	if res.Remaining != 9 {
		t.Errorf("remaining = %v, want 9 (stale entries pruned)", res.Remaining)
	}
}

func TestStore_SegmentIsolation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	opts := &Options{Quota: 2, Window: time.Minute, Unit: UnitRequest, Segment: SegmentUser}

	keyAlice, err := Key(opts, "authhash", "alice", nil)
	if err != nil {
		t.Fatalf("Key(alice) error = %v", err)
	}
	keyBob, err := Key(opts, "authhash", "bob", nil)
	if err != nil {
		t.Fatalf("Key(bob) error = %v", err)
	}
	if keyAlice == keyBob {
		t.Fatal("distinct users mapped to the same key")
	}

	record(t, store, keyAlice, opts, 0)
	record(t, store, keyAlice, opts, 0)

	if res := store.Check(ctx, keyAlice, opts); res.Status != StatusRateLimited {
		t.Errorf("alice: status = %v, want rate_limited", res.Status)
	}
	if res := store.Check(ctx, keyBob, opts); res.Status != StatusOK || res.Remaining != 2 {
		t.Errorf("bob: status = %v remaining = %v, want ok/2", res.Status, res.Remaining)
	}
}

func TestKey_Segments(t *testing.T) {
	global := &Options{Quota: 1, Window: time.Minute}
	key, err := Key(global, "hash", "", nil)
	if err != nil {
		t.Fatalf("Key(global) error = %v", err)
	}
	if key != "rlv2:global:hash" {
		t.Errorf("Key(global) = %q", key)
	}

	// user segment without a user id is a configuration error.
	user := &Options{Quota: 1, Window: time.Minute, Segment: SegmentUser}
	if _, err := Key(user, "hash", "", nil); !errors.Is(err, ErrMissingSegment) {
		t.Errorf("Key(user, no id) error = %v, want ErrMissingSegment", err)
	}

	// Custom properties resolve case-insensitively.
	custom := &Options{Quota: 1, Window: time.Minute, Segment: "Team_ID"}
	key, err = Key(custom, "hash", "", map[string]string{"team_id": "t1"})
	if err != nil {
		t.Fatalf("Key(custom) error = %v", err)
	}
	if key != "rlv2:team_id=t1:hash" {
		t.Errorf("Key(custom) = %q", key)
	}

	if _, err := Key(custom, "hash", "", map[string]string{}); !errors.Is(err, ErrMissingSegment) {
		t.Errorf("Key(custom, missing) error = %v, want ErrMissingSegment", err)
	}
}

func TestStore_CorruptStateTreatedAsEmpty(t *testing.T) {
	mem := cache.NewMemoryStore()
	defer mem.Close()
	ctx := context.Background()

	mem.Set(ctx, "k", "{definitely not an entry list", 0)

	store := NewStore(mem)
	opts := &Options{Quota: 5, Window: time.Minute, Unit: UnitRequest}

	res := store.Check(ctx, "k", opts)
	if res.Status != StatusOK || res.Remaining != 5 {
		t.Errorf("corrupt state: status = %v remaining = %v, want ok/5", res.Status, res.Remaining)
	}

	// Record must overwrite the corrupt state cleanly.
	if err := store.Record(ctx, "k", opts, 0); err != nil {
		t.Fatalf("Record() over corrupt state error = %v", err)
	}
	if res := store.Check(ctx, "k", opts); res.Remaining != 4 {
		t.Errorf("after record: remaining = %v, want 4", res.Remaining)
	}
}

// failingStore errors on every operation, to exercise fail-open.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("cache unavailable")
}
func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("cache unavailable")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("cache unavailable") }
func (failingStore) Close() error                         { return nil }

func TestStore_CheckFailsOpen(t *testing.T) {
	store := NewStore(failingStore{})
	opts := &Options{Quota: 5, Window: time.Minute, Unit: UnitRequest}

	res := store.Check(context.Background(), "k", opts)
	if res.Status != StatusOK {
		t.Errorf("cache failure: status = %v, want ok (fail open)", res.Status)
	}
}
