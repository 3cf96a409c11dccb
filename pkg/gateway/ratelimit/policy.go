// Package ratelimit implements sliding-window rate limiting over the
// shared cache.
//
// A policy is declared per request as a single string with the
// grammar:
//
//	quota;w=windowSeconds(;u=unit)?(;s=segment)?
//
// e.g. "10;w=60", "8500;w=2592000;u=cost_cents;s=user". The store
// tracks time-sorted usage entries per partition key and answers
// Check/Record against them. Check and Record are deliberately
// independent, non-atomic operations against the shared cache; see the
// Store documentation for the admitted race.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the accounting unit of a rate-limit policy.
type Unit string

const (
	// UnitRequest counts one unit per proxied call.
	UnitRequest Unit = "request"

	// UnitCostCents counts dollars*100 per proxied call; fractional
	// cents are allowed.
	UnitCostCents Unit = "cost_cents"
)

// SegmentUser partitions quota per resolved user id.
const SegmentUser = "user"

// Options is a parsed rate-limit policy.
type Options struct {
	// Quota is the maximum usage inside the window.
	Quota float64

	// Window is the sliding-window length.
	Window time.Duration

	// Unit is the accounting unit (request or cost_cents).
	Unit Unit

	// Segment partitions the quota: "" for a single global bucket per
	// auth identity, SegmentUser for per-user buckets, anything else
	// names a custom property.
	Segment string
}

// ParsePolicy parses a policy string. An empty input returns
// (nil, nil): no policy means no rate limiting.
func ParsePolicy(policy string) (*Options, error) {
	policy = strings.TrimSpace(policy)
	if policy == "" {
		return nil, nil
	}

	parts := strings.Split(policy, ";")

	quota, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || quota <= 0 {
		return nil, fmt.Errorf("invalid quota %q", parts[0])
	}

	opts := &Options{
		Quota: quota,
		Unit:  UnitRequest,
	}

	seenWindow := false
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed policy segment %q", part)
		}

		switch strings.TrimSpace(key) {
		case "w":
			seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || seconds <= 0 {
				return nil, fmt.Errorf("invalid window %q", value)
			}
			opts.Window = time.Duration(seconds) * time.Second
			seenWindow = true
		case "u":
			switch Unit(strings.TrimSpace(value)) {
			case UnitRequest:
				opts.Unit = UnitRequest
			case UnitCostCents:
				opts.Unit = UnitCostCents
			default:
				return nil, fmt.Errorf("invalid unit %q", value)
			}
		case "s":
			segment := strings.TrimSpace(value)
			if segment == "" {
				return nil, fmt.Errorf("empty segment")
			}
			opts.Segment = segment
		default:
			return nil, fmt.Errorf("unknown policy key %q", key)
		}
	}

	if !seenWindow {
		return nil, fmt.Errorf("policy %q is missing the window (w=seconds)", policy)
	}

	return opts, nil
}

// PolicyString restates the options in policy-string form, suitable
// for echoing on responses.
func (o *Options) PolicyString() string {
	var b strings.Builder
	b.WriteString(strconv.FormatFloat(o.Quota, 'f', -1, 64))
	fmt.Fprintf(&b, ";w=%d", int64(o.Window/time.Second))
	if o.Unit != UnitRequest {
		fmt.Fprintf(&b, ";u=%s", o.Unit)
	}
	if o.Segment != "" {
		fmt.Fprintf(&b, ";s=%s", o.Segment)
	}
	return b.String()
}
