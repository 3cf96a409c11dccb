// Package upstream provides a fake LLM provider server for tests.
package upstream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer simulates an LLM provider API. It serves configurable
// responses per path, supports SSE streaming, and counts requests.
type MockServer struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses map[string]MockResponse
	requests  int
}

// MockResponse configures one endpoint's behavior.
type MockResponse struct {
	StatusCode   int
	Body         string
	Headers      map[string]string
	Delay        time.Duration
	StreamChunks []string
	ChunkDelay   time.Duration
}

// NewMockServer starts the server; callers must Close it.
func NewMockServer() *MockServer {
	ms := &MockServer{responses: make(map[string]MockResponse)}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close shuts the server down.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse registers the response for a path.
func (ms *MockServer) SetResponse(path string, resp MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = resp
}

// RequestCount returns how many requests the server has received.
func (ms *MockServer) RequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.requests
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	ms.mu.Lock()
	ms.requests++
	resp, ok := ms.responses[r.URL.Path]
	ms.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":{"message":"no route for %s"}}`, r.URL.Path)
		return
	}
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	if len(resp.StreamChunks) > 0 {
		ms.stream(w, resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	fmt.Fprint(w, resp.Body)
}

func (ms *MockServer) stream(w http.ResponseWriter, resp MockResponse) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, chunk := range resp.StreamChunks {
		fmt.Fprint(w, chunk)
		if flusher != nil {
			flusher.Flush()
		}
		if resp.ChunkDelay > 0 {
			time.Sleep(resp.ChunkDelay)
		}
	}
}
