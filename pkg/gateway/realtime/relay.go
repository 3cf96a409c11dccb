package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mercator-hq/gateway/pkg/gateway/logpipe"
	"mercator-hq/gateway/pkg/gateway/provider"
	"mercator-hq/gateway/pkg/telemetry/metrics"
)

// pendingFrames bounds how many client frames can queue while the
// upstream dial is still in flight. Frames beyond this block the
// client reader, they are never dropped.
const pendingFrames = 256

// frame is one WebSocket message in transit.
type frame struct {
	messageType int
	data        []byte
}

// TargetConfig maps a provider to its realtime endpoint.
type TargetConfig struct {
	// Name is the provider route segment.
	Name string

	// URL is the upstream WebSocket endpoint (ws:// or wss://). The
	// inbound query string is appended as-is.
	URL string
}

// Relay upgrades inbound connections and bridges them to the
// provider's realtime socket.
type Relay struct {
	targets  map[string]string
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	sink     ExchangeSink
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewRelay builds a relay for the configured targets.
func NewRelay(targets []TargetConfig, sink ExchangeSink, collector *metrics.Collector) *Relay {
	m := make(map[string]string, len(targets))
	for _, t := range targets {
		m[t.Name] = t.URL
	}
	return &Relay{
		targets: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts arbitrary client apps.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer:  websocket.DefaultDialer,
		sink:    sink,
		metrics: collector,
		logger:  slog.Default().With("component", "realtime"),
	}
}

// Handle upgrades the inbound request and relays the session.
func (rl *Relay) Handle(w http.ResponseWriter, r *http.Request, providerName string) {
	target, ok := rl.targets[providerName]
	if !ok {
		http.Error(w, "no realtime endpoint for provider", http.StatusNotFound)
		return
	}
	targetURL := target
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	authToken := r.Header.Get("Helicone-Auth")
	dialHeaders := provider.SanitizeHeaders(r.Header)
	// The dialer manages its own handshake headers.
	for _, name := range []string{"Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version", "Sec-Websocket-Extensions", "Sec-Websocket-Protocol"} {
		dialHeaders.Del(name)
	}

	clientConn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	rl.metrics.RecordRelaySession()

	sess := newSession()
	var once sync.Once

	// Client frames start flowing immediately; the channel holds them
	// in arrival order until the upstream dial completes. done releases
	// a reader parked on a full channel once the writer pump is gone.
	pending := make(chan frame, pendingFrames)
	done := make(chan struct{})
	var stopReader sync.Once
	stopReading := func() { stopReader.Do(func() { close(done) }) }
	go rl.readClient(clientConn, sess, pending, done)

	targetConn, _, err := rl.dialer.DialContext(r.Context(), targetURL, dialHeaders)
	if err != nil {
		rl.logger.Warn("upstream realtime dial failed",
			"provider", providerName,
			"error", err,
		)
		stopReading()
		clientConn.Close()
		rl.finalize(&once, sess, providerName, r.URL.Path, targetURL, authToken)
		return
	}

	finish := func() {
		stopReading()
		clientConn.Close()
		targetConn.Close()
		rl.finalize(&once, sess, providerName, r.URL.Path, targetURL, authToken)
	}

	// Client to target: flushes the buffered frames first, in order.
	go func() {
		defer finish()
		for f := range pending {
			if err := targetConn.WriteMessage(f.messageType, f.data); err != nil {
				return
			}
			rl.metrics.RecordRelayFrame(FromClient)
		}
	}()

	// Target to client.
	go func() {
		defer finish()
		for {
			messageType, data, err := targetConn.ReadMessage()
			if err != nil {
				return
			}
			sess.append(FromTarget, data)
			rl.metrics.RecordRelayFrame(FromTarget)
			if err := clientConn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}()
}

// readClient pumps client frames into the pending channel and the
// session log. The channel is closed when the client goes away; done
// unblocks a send in flight when the session is torn down first.
func (rl *Relay) readClient(clientConn *websocket.Conn, sess *session, pending chan frame, done <-chan struct{}) {
	defer close(pending)
	for {
		messageType, data, err := clientConn.ReadMessage()
		if err != nil {
			return
		}
		sess.append(FromClient, data)
		select {
		case pending <- frame{messageType: messageType, data: data}:
		case <-done:
			return
		}
	}
}

// finalize closes out the session exactly once, even though both
// pumps report the teardown.
func (rl *Relay) finalize(once *sync.Once, sess *session, providerName, path, targetURL, authToken string) {
	once.Do(func() {
		requestBody, responseBody := sess.exchange()
		rl.sink.Submit(logpipe.Exchange{
			RequestID:    uuid.NewString(),
			Provider:     providerName,
			Path:         path,
			TargetURL:    targetURL,
			Method:       http.MethodGet,
			AuthToken:    authToken,
			IsStream:     true,
			RequestBody:  requestBody,
			ResponseBody: responseBody,
			Status:       http.StatusOK,
			StartTime:    sess.start,
			EndTime:      time.Now(),
		})
	})
}
