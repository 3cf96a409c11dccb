// Package headers parses the gateway's vendor-prefixed header surface.
//
// All headers share the "Helicone-" prefix and are matched
// case-insensitively. Parsing never fails the request: malformed
// values fall back to defaults and are surfaced through the parsed
// struct where callers need to report them.
package headers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix is the gateway's header prefix. Every header with this
// prefix (any casing) is consumed by the gateway and stripped before
// the request is forwarded upstream.
const Prefix = "Helicone-"

// Inbound header names.
const (
	HeaderAuth            = "Helicone-Auth"
	HeaderUserID          = "Helicone-User-Id"
	HeaderRequestID       = "Helicone-Request-Id"
	HeaderRateLimitPolicy = "Helicone-RateLimit-Policy"
	HeaderTargetBaseURL   = "Helicone-Target-Url"
	HeaderOmitRequest     = "Helicone-Omit-Request"
	HeaderOmitResponse    = "Helicone-Omit-Response"
	HeaderNodeID          = "Helicone-Node-Id"
	HeaderPropertyPrefix  = "Helicone-Property-"
	HeaderTemplatePrefix  = "Helicone-Template-"

	HeaderRetryEnabled    = "Helicone-Retry-Enabled"
	HeaderRetryNum        = "Helicone-Retry-Num"
	HeaderRetryFactor     = "Helicone-Retry-Factor"
	HeaderRetryMinTimeout = "Helicone-Retry-Min-Timeout"
	HeaderRetryMaxTimeout = "Helicone-Retry-Max-Timeout"

	HeaderStreamForceFormat = "Helicone-Stream-Force-Format"
	HeaderIncreaseTimeout   = "Helicone-Increase-Timeout"
)

// Outbound header names.
const (
	HeaderStatus             = "Helicone-Status"
	HeaderID                 = "Helicone-Id"
	HeaderRateLimitLimit     = "Helicone-RateLimit-Limit"
	HeaderRateLimitRemaining = "Helicone-RateLimit-Remaining"
	HeaderRateLimitReset     = "Helicone-RateLimit-Reset"
	HeaderRateLimitError     = "Helicone-RateLimit-Error"
)

// Default retry parameters, applied when the retry header block is
// enabled but individual values are absent or malformed.
const (
	DefaultRetries    = 5
	DefaultFactor     = 2.0
	DefaultMinTimeout = time.Second
	DefaultMaxTimeout = 10 * time.Second
)

// RetrySettings holds the parsed retry header block.
type RetrySettings struct {
	Enabled    bool
	Retries    int
	Factor     float64
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

// Headers is the parsed vendor header surface for one request.
type Headers struct {
	// Auth is the raw Helicone-Auth header value, handed to the
	// external auth resolver. Never logged.
	Auth string

	// UserID identifies the end user for per-user rate limiting and
	// log attribution. Empty when absent.
	UserID string

	// RequestID is the client-provided request id, or a generated
	// UUID when absent or malformed.
	RequestID string

	// RateLimitPolicy is the raw policy string ("" when absent).
	RateLimitPolicy string

	// TargetBaseURL overrides the provider API base. Must match the
	// configured allow-list; validation happens in the request mapper.
	TargetBaseURL string

	// OmitRequest / OmitResponse suppress body capture in the log
	// pipeline.
	OmitRequest  bool
	OmitResponse bool

	// NodeID links the request to an external job graph. Empty when
	// absent.
	NodeID string

	// Retry is the parsed retry header block. Retry.Enabled is false
	// when the block is absent.
	Retry RetrySettings

	// StreamForceFormat coalesces undersized SSE chunks on the way
	// back to the client.
	StreamForceFormat bool

	// IncreaseTimeout requests the extended upstream timeout for
	// deliberately slow completions.
	IncreaseTimeout bool

	// Properties holds Helicone-Property-* values keyed by the
	// lower-cased property name.
	Properties map[string]string

	// TemplateInfo holds Helicone-Template-* values describing the
	// prompt template the request was rendered from.
	TemplateInfo map[string]string
}

// Parse extracts the vendor header surface from h.
func Parse(h http.Header) *Headers {
	parsed := &Headers{
		Auth:              h.Get(HeaderAuth),
		UserID:            h.Get(HeaderUserID),
		RequestID:         validRequestID(h.Get(HeaderRequestID)),
		RateLimitPolicy:   h.Get(HeaderRateLimitPolicy),
		TargetBaseURL:     h.Get(HeaderTargetBaseURL),
		OmitRequest:       parseBool(h.Get(HeaderOmitRequest)),
		OmitResponse:      parseBool(h.Get(HeaderOmitResponse)),
		NodeID:            h.Get(HeaderNodeID),
		Retry:             parseRetry(h),
		StreamForceFormat: parseBool(h.Get(HeaderStreamForceFormat)),
		IncreaseTimeout:   parseBool(h.Get(HeaderIncreaseTimeout)),
		Properties:        parsePrefixed(h, HeaderPropertyPrefix),
		TemplateInfo:      parsePrefixed(h, HeaderTemplatePrefix),
	}
	return parsed
}

// IsGatewayHeader reports whether name belongs to the gateway's
// vendor-prefixed header surface.
func IsGatewayHeader(name string) bool {
	return len(name) >= len(Prefix) && strings.EqualFold(name[:len(Prefix)], Prefix)
}

// validRequestID returns id if it is a well-formed UUID, otherwise a
// freshly generated one.
func validRequestID(id string) string {
	if id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			return parsed.String()
		}
	}
	return uuid.NewString()
}

func parseRetry(h http.Header) RetrySettings {
	settings := RetrySettings{
		Enabled:    parseBool(h.Get(HeaderRetryEnabled)),
		Retries:    DefaultRetries,
		Factor:     DefaultFactor,
		MinTimeout: DefaultMinTimeout,
		MaxTimeout: DefaultMaxTimeout,
	}
	if !settings.Enabled {
		return settings
	}

	if n, err := strconv.Atoi(h.Get(HeaderRetryNum)); err == nil && n >= 0 {
		settings.Retries = n
	}
	if f, err := strconv.ParseFloat(h.Get(HeaderRetryFactor), 64); err == nil && f > 0 {
		settings.Factor = f
	}
	if ms, err := strconv.Atoi(h.Get(HeaderRetryMinTimeout)); err == nil && ms > 0 {
		settings.MinTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.Atoi(h.Get(HeaderRetryMaxTimeout)); err == nil && ms > 0 {
		settings.MaxTimeout = time.Duration(ms) * time.Millisecond
	}
	return settings
}

// parsePrefixed collects headers under prefix keyed by the
// lower-cased name remainder.
func parsePrefixed(h http.Header, prefix string) map[string]string {
	out := make(map[string]string)
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(name) > len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			key := strings.ToLower(name[len(prefix):])
			out[key] = values[0]
		}
	}
	return out
}

func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
