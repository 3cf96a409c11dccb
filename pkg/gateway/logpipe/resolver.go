package logpipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"mercator-hq/gateway/pkg/cache"
)

// ErrMissingAuthToken aborts logging for exchanges that carried no
// credential; there is no organization to attribute them to.
var ErrMissingAuthToken = errors.New("missing auth token")

// HashOrgResolver derives a stable organization id from the auth
// token. It serves deployments without a control plane; a real
// deployment plugs in a resolver backed by its account service.
type HashOrgResolver struct {
	tier string
}

// NewHashOrgResolver creates the resolver; tier applies to every
// organization it produces.
func NewHashOrgResolver(tier string) *HashOrgResolver {
	return &HashOrgResolver{tier: tier}
}

// ResolveOrg maps the token to a deterministic organization id.
func (r *HashOrgResolver) ResolveOrg(_ context.Context, authToken string) (Org, error) {
	if authToken == "" {
		return Org{}, ErrMissingAuthToken
	}
	sum := sha256.Sum256([]byte(authToken))
	return Org{
		ID:   "org-" + hex.EncodeToString(sum[:8]),
		Tier: r.tier,
	}, nil
}

// CachedOrgResolver memoizes another resolver's lookups in the shared
// cache, keyed by the token hash so the raw credential never reaches
// the store. Resolution errors are not cached.
type CachedOrgResolver struct {
	inner OrgResolver
	store cache.Store
	ttl   time.Duration
}

// NewCachedOrgResolver wraps inner with cache-backed memoization.
func NewCachedOrgResolver(inner OrgResolver, store cache.Store, ttl time.Duration) *CachedOrgResolver {
	return &CachedOrgResolver{inner: inner, store: store, ttl: ttl}
}

// ResolveOrg serves from the cache when possible.
func (r *CachedOrgResolver) ResolveOrg(ctx context.Context, authToken string) (Org, error) {
	if authToken == "" {
		return Org{}, ErrMissingAuthToken
	}
	sum := sha256.Sum256([]byte(authToken))
	key := "org:" + hex.EncodeToString(sum[:])
	lookup := cache.Memoized(r.store, r.ttl,
		func() string { return key },
		func(ctx context.Context) (Org, error) {
			return r.inner.ResolveOrg(ctx, authToken)
		})
	return lookup(ctx)
}
