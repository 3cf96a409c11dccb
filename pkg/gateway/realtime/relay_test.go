package realtime

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"mercator-hq/gateway/pkg/gateway/logpipe"
	"mercator-hq/gateway/pkg/telemetry/metrics"
)

type captureSink struct {
	ch chan logpipe.Exchange
}

func (s *captureSink) Submit(ex logpipe.Exchange) bool {
	s.ch <- ex
	return true
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newTestRelay(t *testing.T, upstreamURL string) (*httptest.Server, *captureSink) {
	t.Helper()
	sink := &captureSink{ch: make(chan logpipe.Exchange, 4)}
	collector, _ := metrics.NewCollector(nil)
	relay := NewRelay([]TargetConfig{{Name: "openai", URL: upstreamURL}}, sink, collector)

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relay.Handle(w, r, "openai")
	}))
	t.Cleanup(gw.Close)
	return gw, sink
}

func waitExchange(t *testing.T, sink *captureSink) logpipe.Exchange {
	t.Helper()
	select {
	case ex := <-sink.ch:
		return ex
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session exchange")
		panic("unreachable")
	}
}

func TestRelay_SessionLogging(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"session.created","session":{"model":"gpt-realtime","voice":"verse"}}`))
		for i := 0; i < 2; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"response.done","response":{"usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}}`))
		}
	}))
	defer upstream.Close()

	gw, sink := newTestRelay(t, wsURL(upstream))

	client, _, err := websocket.DefaultDialer.Dial(wsURL(gw), nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}

	// session.created arrives before any client frame.
	_, created, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read session.created: %v", err)
	}
	if gjson.GetBytes(created, "type").String() != "session.created" {
		t.Fatalf("first frame = %s", created)
	}

	for i := 0; i < 2; i++ {
		if err := client.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"response.create"}`)); err != nil {
			t.Fatalf("client write: %v", err)
		}
		_, done, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read response.done: %v", err)
		}
		if gjson.GetBytes(done, "type").String() != "response.done" {
			t.Fatalf("frame %d = %s", i, done)
		}
	}
	client.Close()

	ex := waitExchange(t, sink)
	if ex.Status != http.StatusOK {
		t.Errorf("session status = %d, want fixed 200", ex.Status)
	}
	if ex.Provider != "openai" {
		t.Errorf("provider = %q", ex.Provider)
	}

	// Usage is summed across both completed responses.
	if got := gjson.Get(ex.ResponseBody, "usage.total_tokens").Int(); got != 30 {
		t.Errorf("total_tokens = %d, want 30", got)
	}
	if got := gjson.Get(ex.ResponseBody, "usage.input_tokens").Int(); got != 20 {
		t.Errorf("input_tokens = %d, want 20", got)
	}

	// The latest session snapshot provides the request metadata; the
	// client frames form the synthetic request body.
	if got := gjson.Get(ex.RequestBody, "session.model").String(); got != "gpt-realtime" {
		t.Errorf("session model = %q", got)
	}
	if n := gjson.Get(ex.RequestBody, "messages.#").Int(); n != 2 {
		t.Errorf("client messages = %d, want 2", n)
	}
	if ex.EndTime.Before(ex.StartTime) {
		t.Errorf("end %v before start %v", ex.EndTime, ex.StartTime)
	}
}

func TestRelay_BuffersPreOpenFrames(t *testing.T) {
	received := make(chan string, 2)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Delay the handshake so client frames arrive while the
		// upstream socket is still opening.
		time.Sleep(150 * time.Millisecond)
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer upstream.Close()

	gw, sink := newTestRelay(t, wsURL(upstream))

	client, _, err := websocket.DefaultDialer.Dial(wsURL(gw), nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	client.WriteMessage(websocket.TextMessage, []byte(`{"type":"one"}`))
	client.WriteMessage(websocket.TextMessage, []byte(`{"type":"two"}`))

	for i, want := range []string{"one", "two"} {
		select {
		case got := <-received:
			if gjson.Get(got, "type").String() != want {
				t.Errorf("frame %d = %s, want type %s", i, got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("buffered frame never reached upstream")
		}
	}

	client.Close()
	waitExchange(t, sink)
}

func TestRelay_ReleasesReaderWhenUpstreamGone(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the session immediately; the relay's writer pump fails
		// on its first frame.
		conn.Close()
	}))
	defer upstream.Close()

	gw, sink := newTestRelay(t, wsURL(upstream))
	baseline := runtime.NumGoroutine()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(gw), nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}

	// Flood more frames than the relay buffers so the client reader is
	// parked on a full channel when the writer pump dies.
	for i := 0; i < pendingFrames+64; i++ {
		if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"flood"}`)); err != nil {
			break
		}
	}
	client.Close()

	waitExchange(t, sink)

	// Every session goroutine must wind down, including a reader that
	// was blocked mid-send when the session tore down.
	deadline := time.Now().Add(5 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d, want back to %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelay_UnknownProvider(t *testing.T) {
	sink := &captureSink{ch: make(chan logpipe.Exchange, 1)}
	collector, _ := metrics.NewCollector(nil)
	relay := NewRelay(nil, sink, collector)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/gateway/nope/realtime", nil)
	relay.Handle(w, r, "nope")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
