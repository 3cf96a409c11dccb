// Package logpipe turns completed exchanges into queued log records.
//
// The pipeline is fire-and-forget: the client response is never made
// to wait for it, and every failure inside it is recovered locally.
// Delivery is at most once; records dropped on overload or shutdown
// are an accepted loss.
package logpipe

import "time"

// Log-record status sentinels for streams that did not finish
// normally.
const (
	// StatusCancelled marks a stream torn down before completion.
	StatusCancelled = -3

	// StatusTimedOut marks a stream whose capture ceiling elapsed.
	StatusTimedOut = -2
)

// Exchange is the completed request/response pair handed to the
// pipeline by the orchestrator or the realtime relay.
type Exchange struct {
	RequestID string
	Provider  string
	Path      string
	TargetURL string
	Method    string

	// AuthToken is the raw credential used to resolve the
	// organization. Never written to the log record.
	AuthToken string

	UserID     string
	NodeID     string
	Properties map[string]string

	// TemplateInfo describes the prompt template the request was
	// rendered from.
	TemplateInfo map[string]string

	IsStream bool

	// Omit flags suppress body archival for the respective side.
	OmitRequestBody  bool
	OmitResponseBody bool

	RequestBody  string
	ResponseBody string

	// Status is the normalized upstream status, or a negative
	// sentinel (StatusCancelled, StatusTimedOut).
	Status int

	StartTime time.Time
	EndTime   time.Time

	// FirstChunkTime is zero when no streamed chunk arrived.
	FirstChunkTime time.Time
}

// Org is the resolved organization context for one exchange.
type Org struct {
	ID         string
	APIKeyID   string
	ProxyKeyID string

	// Tier selects the organization's log rate-limit threshold.
	Tier string
}
