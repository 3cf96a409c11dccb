package logpipe

import (
	"time"

	"github.com/google/uuid"
)

// Queue topics.
const (
	// TopicLogs carries full log records.
	TopicLogs = "request_response_logs"

	// TopicRateLimitLog carries marker records for organizations whose
	// log volume exceeded their tier limit.
	TopicRateLimitLog = "rate_limit_log"
)

// Record is the unit enqueued on the message queue. It is created once
// per completed exchange and never mutated afterwards; ownership
// transfers to the queue consumer.
type Record struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	UserID         string            `json:"userId,omitempty"`
	APIKeyID       string            `json:"apiKeyId,omitempty"`
	ProxyKeyID     string            `json:"proxyKeyId,omitempty"`
	TargetURL      string            `json:"targetUrl"`
	Provider       string            `json:"provider"`
	Path           string            `json:"path"`
	BodySizeBytes  int               `json:"bodySizeBytes"`
	IsStream       bool              `json:"isStream"`
	CreatedAt      time.Time         `json:"createdAt"`
	NodeID         string            `json:"nodeId,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
	TemplateInfo   map[string]string `json:"templateInfo,omitempty"`

	ResponseID            string    `json:"responseId"`
	Status                int       `json:"status"`
	ResponseBodySizeBytes int       `json:"responseBodySizeBytes"`
	TimeToFirstTokenMs    int64     `json:"timeToFirstTokenMs,omitempty"`
	ResponseCreatedAt     time.Time `json:"responseCreatedAt"`
	DelayMs               int64     `json:"delayMs"`
}

// markerRecord is the payload for TopicRateLimitLog.
type markerRecord struct {
	OrganizationID string    `json:"organizationId"`
	RequestID      string    `json:"requestId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// buildRecord assembles the log record for one exchange.
func buildRecord(ex Exchange, org Org) Record {
	rec := Record{
		ID:             ex.RequestID,
		OrganizationID: org.ID,
		UserID:         ex.UserID,
		APIKeyID:       org.APIKeyID,
		ProxyKeyID:     org.ProxyKeyID,
		TargetURL:      ex.TargetURL,
		Provider:       ex.Provider,
		Path:           ex.Path,
		BodySizeBytes:  len(ex.RequestBody),
		IsStream:       ex.IsStream,
		CreatedAt:      ex.StartTime,
		NodeID:         ex.NodeID,
		Properties:     ex.Properties,
		TemplateInfo:   ex.TemplateInfo,

		ResponseID:            uuid.NewString(),
		Status:                ex.Status,
		ResponseBodySizeBytes: len(ex.ResponseBody),
		ResponseCreatedAt:     ex.EndTime,
		DelayMs:               ex.EndTime.Sub(ex.StartTime).Milliseconds(),
	}
	if ex.IsStream && !ex.FirstChunkTime.IsZero() {
		rec.TimeToFirstTokenMs = ex.FirstChunkTime.Sub(ex.StartTime).Milliseconds()
	}
	return rec
}
