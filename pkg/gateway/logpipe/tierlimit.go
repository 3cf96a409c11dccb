package logpipe

import (
	"context"
	"time"

	"mercator-hq/gateway/pkg/gateway/ratelimit"
)

// TierLimit is an organization tier's log volume threshold.
type TierLimit struct {
	// Quota is the number of log records allowed per window.
	Quota float64

	// Window is the sliding accounting window.
	Window time.Duration
}

// TierLimiter applies the secondary, per-organization log rate limit.
// It suppresses log volume from abusive callers; their actual traffic
// was already admitted by the per-request policy.
type TierLimiter struct {
	store    *ratelimit.Store
	limits   map[string]TierLimit
	fallback TierLimit
}

// NewTierLimiter builds a limiter over the shared sliding-window
// store. limits maps tier names to thresholds; fallback applies to
// unknown tiers. A fallback quota of zero disables limiting for
// unmapped tiers.
func NewTierLimiter(store *ratelimit.Store, limits map[string]TierLimit, fallback TierLimit) *TierLimiter {
	return &TierLimiter{store: store, limits: limits, fallback: fallback}
}

func (t *TierLimiter) options(tier string) *ratelimit.Options {
	limit, ok := t.limits[tier]
	if !ok {
		limit = t.fallback
	}
	if limit.Quota <= 0 || limit.Window <= 0 {
		return nil
	}
	return &ratelimit.Options{
		Quota:  limit.Quota,
		Window: limit.Window,
		Unit:   ratelimit.UnitRequest,
	}
}

// Allow reports whether the organization may emit another full log
// record, and accounts for it when allowed.
func (t *TierLimiter) Allow(ctx context.Context, org Org) bool {
	opts := t.options(org.Tier)
	if opts == nil {
		return true
	}

	key := "logtier:" + org.ID
	if res := t.store.Check(ctx, key, opts); res.Status == ratelimit.StatusRateLimited {
		return false
	}
	// Best effort; a failed record just under-counts.
	t.store.Record(ctx, key, opts, 0)
	return true
}
