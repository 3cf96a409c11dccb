package logpipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/gateway/pkg/cache"
)

func TestHashOrgResolver(t *testing.T) {
	r := NewHashOrgResolver("free")

	a, err := r.ResolveOrg(context.Background(), "sk-token-one")
	if err != nil {
		t.Fatalf("ResolveOrg() error: %v", err)
	}
	if a.Tier != "free" {
		t.Errorf("tier = %q, want free", a.Tier)
	}

	b, err := r.ResolveOrg(context.Background(), "sk-token-one")
	if err != nil {
		t.Fatalf("ResolveOrg() error: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("same token resolved to %q and %q", a.ID, b.ID)
	}

	c, err := r.ResolveOrg(context.Background(), "sk-token-two")
	if err != nil {
		t.Fatalf("ResolveOrg() error: %v", err)
	}
	if c.ID == a.ID {
		t.Error("distinct tokens resolved to the same org")
	}
}

func TestHashOrgResolver_MissingToken(t *testing.T) {
	r := NewHashOrgResolver("")
	_, err := r.ResolveOrg(context.Background(), "")
	if !errors.Is(err, ErrMissingAuthToken) {
		t.Errorf("error = %v, want ErrMissingAuthToken", err)
	}
}

// countingResolver records how often the underlying lookup runs.
type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) ResolveOrg(_ context.Context, authToken string) (Org, error) {
	r.calls++
	if r.err != nil {
		return Org{}, r.err
	}
	return Org{ID: "org-" + authToken, Tier: "pro"}, nil
}

func TestCachedOrgResolver_MemoizesByToken(t *testing.T) {
	inner := &countingResolver{}
	r := NewCachedOrgResolver(inner, cache.NewMemoryStore(), time.Minute)

	for i := 0; i < 3; i++ {
		org, err := r.ResolveOrg(context.Background(), "sk-abc")
		if err != nil {
			t.Fatalf("ResolveOrg() error: %v", err)
		}
		if org.ID != "org-sk-abc" || org.Tier != "pro" {
			t.Fatalf("org = %+v", org)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner lookups = %d, want 1 (cache hit on repeats)", inner.calls)
	}

	if _, err := r.ResolveOrg(context.Background(), "sk-other"); err != nil {
		t.Fatalf("ResolveOrg() error: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner lookups = %d, want 2 (distinct token misses)", inner.calls)
	}
}

func TestCachedOrgResolver_ErrorsNotCached(t *testing.T) {
	inner := &countingResolver{err: errors.New("account service down")}
	r := NewCachedOrgResolver(inner, cache.NewMemoryStore(), time.Minute)

	if _, err := r.ResolveOrg(context.Background(), "sk-abc"); err == nil {
		t.Fatal("expected the inner error")
	}
	inner.err = nil
	org, err := r.ResolveOrg(context.Background(), "sk-abc")
	if err != nil {
		t.Fatalf("ResolveOrg() after recovery: %v", err)
	}
	if org.ID != "org-sk-abc" {
		t.Errorf("org = %+v", org)
	}
	if inner.calls != 2 {
		t.Errorf("inner lookups = %d, want 2 (failure retried)", inner.calls)
	}
}

func TestCachedOrgResolver_MissingToken(t *testing.T) {
	inner := &countingResolver{}
	r := NewCachedOrgResolver(inner, cache.NewMemoryStore(), time.Minute)
	if _, err := r.ResolveOrg(context.Background(), ""); !errors.Is(err, ErrMissingAuthToken) {
		t.Errorf("error = %v, want ErrMissingAuthToken", err)
	}
	if inner.calls != 0 {
		t.Errorf("inner lookups = %d, want 0", inner.calls)
	}
}
