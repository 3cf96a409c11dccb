// Package realtime bridges client WebSockets to upstream realtime
// providers and logs each session as a single exchange.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/gateway/pkg/gateway/logpipe"
)

// Frame directions.
const (
	FromClient = "client"
	FromTarget = "target"
)

// SocketMessage is one relayed frame in the session log.
type SocketMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
}

// usage accumulates token counts across every completed response in
// the session.
type usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// session is the in-memory log of one relayed connection. Both pump
// goroutines append to it; it is discarded once the session's log
// record is built.
type session struct {
	mu       sync.Mutex
	messages []SocketMessage
	start    time.Time
}

func newSession() *session {
	return &session{start: time.Now()}
}

// append records one frame. The frame type is read from the JSON
// payload when present.
func (s *session) append(from string, payload []byte) {
	msg := SocketMessage{
		Type:      gjson.GetBytes(payload, "type").String(),
		Timestamp: time.Now(),
		From:      from,
		Content:   string(payload),
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

// exchange builds the session's synthetic exchange. Realtime sessions
// always log status 200: downstream consumers upsert continuously and
// cannot tolerate a changing status.
func (s *session) exchange() (requestBody, responseBody string) {
	s.mu.Lock()
	messages := s.messages
	s.mu.Unlock()

	var (
		sessionMeta json.RawMessage
		total       usage
	)
	clientFrames := []json.RawMessage{}
	targetFrames := []json.RawMessage{}
	for _, msg := range messages {
		raw := json.RawMessage(msg.Content)
		if !json.Valid(raw) {
			encoded, _ := json.Marshal(msg.Content)
			raw = encoded
		}
		if msg.From == FromClient {
			clientFrames = append(clientFrames, raw)
			continue
		}
		targetFrames = append(targetFrames, raw)

		switch msg.Type {
		case "session.created", "session.updated":
			// The most recent session snapshot wins.
			if meta := gjson.Get(msg.Content, "session"); meta.Exists() {
				sessionMeta = json.RawMessage(meta.Raw)
			}
		case "response.done":
			u := gjson.Get(msg.Content, "response.usage")
			total.InputTokens += u.Get("input_tokens").Int()
			total.OutputTokens += u.Get("output_tokens").Int()
			total.TotalTokens += u.Get("total_tokens").Int()
		}
	}

	req, _ := json.Marshal(struct {
		Session  json.RawMessage   `json:"session,omitempty"`
		Messages []json.RawMessage `json:"messages"`
	}{Session: sessionMeta, Messages: clientFrames})

	resp, _ := json.Marshal(struct {
		Messages []json.RawMessage `json:"messages"`
		Usage    usage             `json:"usage"`
	}{Messages: targetFrames, Usage: total})

	return string(req), string(resp)
}

// ExchangeSink receives the finished session for logging.
type ExchangeSink interface {
	Submit(ex logpipe.Exchange) bool
}
