package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/gateway/pkg/gateway/headers"
	"mercator-hq/gateway/pkg/gateway/provider"
	"mercator-hq/gateway/pkg/gateway/ratelimit"
)

// routePrefix is stripped from the inbound path when building the
// upstream target URL.
const routePrefix = "/v1/gateway"

// MappingError is a configuration failure while mapping an inbound
// request. The request fails closed; nothing is sent upstream.
type MappingError struct {
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *MappingError) Unwrap() error { return e.Err }

// ProviderConfig describes one upstream adapter.
type ProviderConfig struct {
	// Name is the route segment selecting this provider.
	Name string

	// BaseURL is the default upstream base.
	BaseURL string

	// ApprovedURLPatterns are regular expressions a target-url
	// override must match. An override that matches none fails closed.
	ApprovedURLPatterns []string

	// StreamViaQuery enables the alt=sse query hint as a streaming
	// signal (Google-style APIs that do not carry a body flag).
	StreamViaQuery bool
}

type providerEntry struct {
	baseURL        string
	approved       []*regexp.Regexp
	streamViaQuery bool
}

// Mapper turns an inbound HTTP request into a canonical Request.
//
// The provider table is safe for concurrent use; the approved-URL
// allow-list can be swapped at runtime by the config watcher.
type Mapper struct {
	mu        sync.RWMutex
	providers map[string]*providerEntry
	logger    *slog.Logger
}

// NewMapper builds a mapper from the provider configs.
func NewMapper(configs []ProviderConfig) (*Mapper, error) {
	m := &Mapper{
		providers: make(map[string]*providerEntry, len(configs)),
		logger:    slog.Default().With("component", "mapper"),
	}
	for _, cfg := range configs {
		if err := m.SetProvider(cfg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetProvider adds or replaces one provider entry. Used at
// construction and by the allow-list hot reload.
func (m *Mapper) SetProvider(cfg ProviderConfig) error {
	if cfg.Name == "" || cfg.BaseURL == "" {
		return fmt.Errorf("provider config requires name and base_url (got name=%q)", cfg.Name)
	}
	approved := make([]*regexp.Regexp, 0, len(cfg.ApprovedURLPatterns))
	for _, pattern := range cfg.ApprovedURLPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("provider %s: bad approved URL pattern %q: %w", cfg.Name, pattern, err)
		}
		approved = append(approved, re)
	}

	m.mu.Lock()
	m.providers[strings.ToLower(cfg.Name)] = &providerEntry{
		baseURL:        cfg.BaseURL,
		approved:       approved,
		streamViaQuery: cfg.StreamViaQuery,
	}
	m.mu.Unlock()
	return nil
}

// Map builds the canonical Request for an inbound call. providerName
// comes from the route. A MappingError means the request must fail
// closed without contacting any upstream.
func (m *Mapper) Map(r *http.Request, providerName string) (*Request, error) {
	m.mu.RLock()
	entry, ok := m.providers[strings.ToLower(providerName)]
	m.mu.RUnlock()
	if !ok {
		return nil, &MappingError{Reason: fmt.Sprintf("unknown provider %q", providerName)}
	}

	h := headers.Parse(r.Header)

	apiBase, err := m.resolveAPIBase(entry, h.TargetBaseURL)
	if err != nil {
		return nil, err
	}

	targetURL, err := buildTargetURL(apiBase, providerName, r.URL)
	if err != nil {
		return nil, err
	}

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, &MappingError{Reason: "failed to read request body", Err: err}
		}
		if len(body) == 0 {
			body = nil
		}
	}

	isStream := gjson.GetBytes(body, "stream").Bool()
	if entry.streamViaQuery && r.URL.Query().Get("alt") == "sse" {
		isStream = true
	}

	req := &Request{
		Provider:          strings.ToLower(providerName),
		APIBase:           apiBase,
		TargetURL:         targetURL,
		Method:            r.Method,
		Body:              body,
		IsStream:          isStream,
		OmitRequestLog:    h.OmitRequest,
		OmitResponseLog:   h.OmitResponse,
		RequestID:         h.RequestID,
		NodeID:            h.NodeID,
		Properties:        h.Properties,
		TemplateInfo:      h.TemplateInfo,
		UserID:            h.UserID,
		AuthToken:         h.Auth,
		StreamForceFormat: h.StreamForceFormat,
		IncreaseTimeout:   h.IncreaseTimeout,
		StartTime:         time.Now(),
		InboundHeaders:    r.Header,
		Path:              r.URL.Path,
	}

	if req.UserID == "" {
		req.UserID = gjson.GetBytes(body, "user").String()
	}
	req.AuthHash = hashCredential(credential(r.Header, h))

	// A malformed policy is a soft error: the request proceeds
	// un-limited and the error surfaces as a response header.
	opts, err := ratelimit.ParsePolicy(h.RateLimitPolicy)
	if err != nil {
		m.logger.Warn("malformed rate-limit policy",
			"request_id", req.RequestID,
			"error", err,
		)
		req.RateLimitError = err.Error()
	} else {
		req.RateLimit = opts
	}

	if h.Retry.Enabled {
		req.Retry = &provider.RetryOptions{
			Retries:    h.Retry.Retries,
			Factor:     h.Retry.Factor,
			MinTimeout: h.Retry.MinTimeout,
			MaxTimeout: h.Retry.MaxTimeout,
		}
	}

	return req, nil
}

// resolveAPIBase applies the target-url override against the
// allow-list, falling back to the provider default.
func (m *Mapper) resolveAPIBase(entry *providerEntry, override string) (string, error) {
	if override == "" {
		return entry.baseURL, nil
	}
	for _, re := range entry.approved {
		if re.MatchString(override) {
			return override, nil
		}
	}
	return "", &MappingError{Reason: fmt.Sprintf("target URL %q is not on the approved list", override)}
}

// buildTargetURL strips the routing prefix from the inbound path and
// appends the tail, plus the query string, to the API base's origin.
func buildTargetURL(apiBase, providerName string, inbound *url.URL) (string, error) {
	base, err := url.Parse(apiBase)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", &MappingError{Reason: fmt.Sprintf("invalid API base %q", apiBase), Err: err}
	}

	tail := strings.TrimPrefix(inbound.Path, routePrefix)
	tail = strings.TrimPrefix(tail, "/"+providerName)
	if tail == "" {
		tail = "/"
	}

	target := base.Scheme + "://" + base.Host + tail
	if inbound.RawQuery != "" {
		target += "?" + inbound.RawQuery
	}
	return target, nil
}

// credential selects the rate-limit partition credential: the gateway
// auth header when present, the standard Authorization header
// otherwise.
func credential(raw http.Header, h *headers.Headers) string {
	if h.Auth != "" {
		return h.Auth
	}
	return raw.Get("Authorization")
}

// hashCredential derives the one-way partition key. The clear-text
// credential is never stored or logged.
func hashCredential(cred string) string {
	if cred == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:])
}
