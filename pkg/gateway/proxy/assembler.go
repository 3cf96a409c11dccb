package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/gateway/pkg/gateway/headers"
	"mercator-hq/gateway/pkg/gateway/provider"
	"mercator-hq/gateway/pkg/gateway/ratelimit"
)

// rateLimitedBody is the fixed 429 payload. The provider is never
// contacted on this path.
const rateLimitedBody = `{"error":{"message":"Rate limit reached. Please wait before making more requests.","type":"rate_limit_error","code":"rate_limited"}}`

// Assembler writes outbound responses.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler creates a response assembler.
func NewAssembler() *Assembler {
	return &Assembler{logger: slog.Default().With("component", "assembler")}
}

// WriteRateLimited writes the dedicated 429 response for a denied
// pre-check.
func (a *Assembler) WriteRateLimited(w http.ResponseWriter, req *Request, res ratelimit.CheckResult) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set(headers.HeaderStatus, "failed")
	h.Set(headers.HeaderID, req.RequestID)
	applyRateLimitHeaders(h, req.RateLimit, res)

	w.WriteHeader(http.StatusTooManyRequests)
	io.WriteString(w, rateLimitedBody)
}

// Write streams the upstream response to the client. body is read to
// completion (it is normally a stream interceptor, so the full text is
// captured as a side effect); for streaming exchanges each chunk is
// flushed as it arrives.
func (a *Assembler) Write(w http.ResponseWriter, req *Request, upstream *http.Response, body io.Reader, rl *ratelimit.CheckResult) {
	h := w.Header()
	copyUpstreamHeaders(h, upstream.Header)

	status := provider.NormalizeStatus(upstream.StatusCode)
	if status < http.StatusBadRequest {
		h.Set(headers.HeaderStatus, "success")
	} else {
		h.Set(headers.HeaderStatus, "failed")
	}
	h.Set(headers.HeaderID, req.RequestID)

	if req.RateLimitError != "" {
		h.Set(headers.HeaderRateLimitError, req.RateLimitError)
	}
	if req.RateLimit != nil && rl != nil {
		applyRateLimitHeaders(h, req.RateLimit, *rl)
	}

	w.WriteHeader(status)

	var dst io.Writer = w
	if req.IsStream {
		dst = &flushWriter{w: w}
	}
	if _, err := io.Copy(dst, body); err != nil {
		// The client went away or the upstream stream broke; the
		// interceptor records the partial body either way.
		a.logger.Debug("response copy ended early",
			"request_id", req.RequestID,
			"error", err,
		)
	}
}

// applyRateLimitHeaders sets the quota headers: remaining, limit, the
// restated policy, and the reset delay when the request was denied.
func applyRateLimitHeaders(h http.Header, opts *ratelimit.Options, res ratelimit.CheckResult) {
	if opts == nil {
		return
	}
	h.Set(headers.HeaderRateLimitLimit, formatQuota(res.Limit))
	h.Set(headers.HeaderRateLimitRemaining, formatQuota(res.Remaining))
	h.Set(headers.HeaderRateLimitPolicy, opts.PolicyString())
	if res.Status == ratelimit.StatusRateLimited {
		h.Set(headers.HeaderRateLimitReset, strconv.FormatInt(res.ResetSeconds, 10))
	}
}

func formatQuota(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// copyUpstreamHeaders forwards the upstream response headers, minus
// the ones the gateway rewrites while re-framing the body.
func copyUpstreamHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Content-Encoding", "Transfer-Encoding", "Connection":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// flushWriter flushes after every chunk so streamed tokens reach the
// client without buffering delay.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
