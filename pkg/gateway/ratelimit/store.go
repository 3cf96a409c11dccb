package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"mercator-hq/gateway/pkg/cache"
)

// keyVersion tags cache keys so the entry format can evolve without
// misreading state written by older builds.
const keyVersion = "rlv2"

// ErrMissingSegment is returned when a policy names a segment whose
// value cannot be resolved from the request. This is a configuration
// error: the policy asked for a partition the request cannot provide.
var ErrMissingSegment = errors.New("ratelimit: segment value is missing")

// Status is the outcome of a rate-limit check.
type Status string

const (
	// StatusOK admits the request.
	StatusOK Status = "ok"

	// StatusRateLimited denies the request.
	StatusRateLimited Status = "rate_limited"
)

// CheckResult is the outcome of Store.Check.
type CheckResult struct {
	Status    Status
	Limit     float64
	Remaining float64

	// ResetSeconds is the number of seconds until the oldest relevant
	// entry leaves the window. Only set when rate limited.
	ResetSeconds int64
}

// entry is one usage record inside a window. Entries are persisted as
// a JSON array sorted ascending by timestamp.
type entry struct {
	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Unit is the usage weight: 1 for request policies, cents for
	// cost policies.
	Unit float64 `json:"unit"`
}

// Store tracks sliding-window usage in the shared cache.
//
// Check and Record are independent read-modify-write cycles with no
// locking across callers: two concurrent requests on the same key can
// both observe pre-update state and both be admitted. That transient
// over-admission is an accepted tradeoff for avoiding distributed
// locks and must not be "fixed" with one.
type Store struct {
	cache  cache.Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewStore creates a rate-limit store over the given cache.
func NewStore(c cache.Store) *Store {
	return &Store{
		cache:  c,
		logger: slog.Default().With("component", "ratelimit"),
		clock:  time.Now,
	}
}

// Key derives the cache partition key for a policy. authHash is the
// one-way hash of the provider credential; it is the only identity
// material that ever reaches the cache.
//
// Segment resolution:
//   - no segment: one global bucket for the auth identity
//   - "user": requires a resolved user id
//   - anything else: looked up case-insensitively in the request's
//     custom-property map
//
// A missing user id or property is reported as ErrMissingSegment.
func Key(opts *Options, authHash string, userID string, properties map[string]string) (string, error) {
	var segmentValue string
	switch {
	case opts.Segment == "":
		segmentValue = "global"
	case opts.Segment == SegmentUser:
		if userID == "" {
			return "", fmt.Errorf("%w: policy segments by user but no user id was resolved", ErrMissingSegment)
		}
		segmentValue = "user=" + userID
	default:
		name := strings.ToLower(opts.Segment)
		value, ok := properties[name]
		if !ok || value == "" {
			return "", fmt.Errorf("%w: property %q not found", ErrMissingSegment, opts.Segment)
		}
		segmentValue = name + "=" + value
	}

	return fmt.Sprintf("%s:%s:%s", keyVersion, segmentValue, authHash), nil
}

// Check evaluates current usage against the policy without recording
// anything. On cache failure it fails open: the request proceeds and
// the error is logged, never surfaced.
func (s *Store) Check(ctx context.Context, key string, opts *Options) CheckResult {
	now := s.clock()

	entries, err := s.load(ctx, key)
	if err != nil {
		s.logger.Error("rate limit check failed open", "error", err)
		return CheckResult{Status: StatusOK, Limit: opts.Quota, Remaining: opts.Quota}
	}

	relevant := entries[firstRelevant(entries, now, opts.Window):]

	var usage float64
	for _, e := range relevant {
		usage += e.Unit
	}

	remaining := math.Max(0, opts.Quota-usage)
	if usage >= opts.Quota {
		return CheckResult{
			Status:       StatusRateLimited,
			Limit:        opts.Quota,
			Remaining:    remaining,
			ResetSeconds: resetSeconds(relevant, now, opts.Window),
		}
	}

	return CheckResult{Status: StatusOK, Limit: opts.Quota, Remaining: remaining}
}

// Record appends one usage entry for the request. cost is the request
// cost in dollars; it is only consulted for cost_cents policies, where
// the recorded weight is dollars*100.
//
// Stale entries are pruned before the write, and the state's TTL is
// the window length, so an idle key expires from the cache entirely.
func (s *Store) Record(ctx context.Context, key string, opts *Options, cost float64) error {
	now := s.clock()

	entries, err := s.load(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load rate limit state: %w", err)
	}

	weight := 1.0
	if opts.Unit == UnitCostCents {
		weight = cost * 100
	}

	pruned := entries[firstRelevant(entries, now, opts.Window):]
	updated := make([]entry, 0, len(pruned)+1)
	updated = append(updated, pruned...)
	updated = append(updated, entry{Timestamp: now.UnixMilli(), Unit: weight})
	sort.Slice(updated, func(i, j int) bool { return updated[i].Timestamp < updated[j].Timestamp })

	encoded, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit state: %w", err)
	}

	ttl := time.Duration(math.Ceil(opts.Window.Seconds())) * time.Second
	if err := s.cache.Set(ctx, key, string(encoded), ttl); err != nil {
		return fmt.Errorf("failed to persist rate limit state: %w", err)
	}
	return nil
}

// load reads the entry list for key. Missing or corrupt state is
// treated as empty, never as an error: a bad cache entry must not
// take down the proxied request.
func (s *Store) load(ctx context.Context, key string) ([]entry, error) {
	raw, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("discarding corrupt rate limit state", "key", key)
		return nil, nil
	}
	return entries, nil
}

// firstRelevant returns the index of the first entry whose timestamp
// is inside the window. Entries are sorted ascending by timestamp, so
// everything before the index is stale.
func firstRelevant(entries []entry, now time.Time, window time.Duration) int {
	cutoff := now.UnixMilli() - window.Milliseconds()
	return sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp >= cutoff
	})
}

// resetSeconds computes how long until the oldest relevant entry
// leaves the window.
func resetSeconds(relevant []entry, now time.Time, window time.Duration) int64 {
	if len(relevant) == 0 {
		return 0
	}
	exitMillis := relevant[0].Timestamp + window.Milliseconds() - now.UnixMilli()
	if exitMillis <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(exitMillis) / 1000))
}
