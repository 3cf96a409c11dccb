// Package proxy maps inbound requests, orchestrates the proxied call,
// and assembles the outbound response.
package proxy

import (
	"net/http"
	"time"

	"mercator-hq/gateway/pkg/gateway/provider"
	"mercator-hq/gateway/pkg/gateway/ratelimit"
)

// Request is the canonical record of one proxied call. It is built
// once by the Mapper and read-only afterwards; the orchestration call
// owns it for the lifetime of the request.
type Request struct {
	// Provider is the upstream adapter name from the route.
	Provider string

	// APIBase is the resolved upstream base URL.
	APIBase string

	// TargetURL is the full upstream URL including path tail and query.
	TargetURL string

	Method string

	// Body is the raw request body; nil for bodiless methods.
	Body []byte

	// IsStream marks a streaming exchange (body "stream" flag, or the
	// alt=sse query hint for providers that signal streaming there).
	IsStream bool

	// RateLimit holds the parsed policy; nil when no policy header was
	// sent or the policy was malformed.
	RateLimit *ratelimit.Options

	// RateLimitError carries the parse error of a malformed policy.
	// The request proceeds un-limited; the error is surfaced as a
	// response header.
	RateLimitError string

	// Retry holds the retry header block; nil when retries are not
	// enabled for this request.
	Retry *provider.RetryOptions

	// OmitRequestLog / OmitResponseLog suppress body capture in the
	// log pipeline.
	OmitRequestLog  bool
	OmitResponseLog bool

	// RequestID is a UUID, client-provided or generated.
	RequestID string

	// NodeID links the request to an external job graph; empty when
	// absent.
	NodeID string

	// TemplateInfo describes the prompt template the request was
	// rendered from, keyed by the lower-cased template field name.
	TemplateInfo map[string]string

	// Properties are the org-scoped custom properties, keyed by
	// lower-cased name.
	Properties map[string]string

	// UserID is the end-user identity from the user-id header or the
	// body's "user" field.
	UserID string

	// AuthHash is a one-way hash of the provider credential, used only
	// as the rate-limit partition key. Empty when no credential was
	// sent.
	AuthHash string

	// AuthToken is the raw auth header value handed to the external
	// org resolver during logging. Never logged in clear text.
	AuthToken string

	StreamForceFormat bool
	IncreaseTimeout   bool

	// StartTime is when the gateway accepted the request.
	StartTime time.Time

	// InboundHeaders are the original request headers; the gateway
	// surface is stripped before forwarding.
	InboundHeaders http.Header

	// Path is the inbound request path, recorded in the log record.
	Path string
}
