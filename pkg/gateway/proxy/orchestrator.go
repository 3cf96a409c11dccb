package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/gateway/pkg/gateway/logpipe"
	"mercator-hq/gateway/pkg/gateway/provider"
	"mercator-hq/gateway/pkg/gateway/ratelimit"
	"mercator-hq/gateway/pkg/gateway/stream"
	"mercator-hq/gateway/pkg/telemetry/metrics"
)

// recordTimeout bounds the background usage-accounting write after
// the response is sent.
const recordTimeout = 5 * time.Second

// UpstreamCaller executes the outbound provider call.
type UpstreamCaller interface {
	CallWithRetry(ctx context.Context, props provider.CallProps, retry *provider.RetryOptions) (*http.Response, error)
}

// RateLimiter is the sliding-window usage store. Check and Record are
// deliberately independent calls; see the store for the admission
// tradeoff.
type RateLimiter interface {
	Check(ctx context.Context, key string, opts *ratelimit.Options) ratelimit.CheckResult
	Record(ctx context.Context, key string, opts *ratelimit.Options, cost float64) error
}

// ExchangeSink receives completed exchanges for logging. Submit must
// never block.
type ExchangeSink interface {
	Submit(ex logpipe.Exchange) bool
}

// CostEstimator prices a completed exchange in dollars for cost-unit
// quotas. It is an external collaborator; without one, cost-unit
// policies accrue zero usage.
type CostEstimator interface {
	EstimateDollars(provider, responseBody string) float64
}

// OrchestratorOptions tunes the orchestrator.
type OrchestratorOptions struct {
	// CaptureCeiling bounds stream capture; zero selects the
	// interceptor default.
	CaptureCeiling time.Duration

	// Cost estimates usage for cost-unit rate limits. May be nil.
	Cost CostEstimator
}

// Orchestrator drives one proxied request through mapping, the
// rate-limit pre-check, the upstream call, response assembly and
// background logging.
type Orchestrator struct {
	mapper    *Mapper
	assembler *Assembler
	caller    UpstreamCaller
	limiter   RateLimiter
	sink      ExchangeSink
	cost      CostEstimator
	metrics   *metrics.Collector
	ceiling   time.Duration
	logger    *slog.Logger
}

// NewOrchestrator wires the proxy path.
func NewOrchestrator(mapper *Mapper, caller UpstreamCaller, limiter RateLimiter, sink ExchangeSink, collector *metrics.Collector, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		mapper:    mapper,
		assembler: NewAssembler(),
		caller:    caller,
		limiter:   limiter,
		sink:      sink,
		cost:      opts.Cost,
		metrics:   collector,
		ceiling:   opts.CaptureCeiling,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// Handle proxies one inbound request. providerName comes from the
// route.
func (o *Orchestrator) Handle(w http.ResponseWriter, r *http.Request, providerName string) {
	start := time.Now()

	preq, err := o.mapper.Map(r, providerName)
	if err != nil {
		// Mapping failures are configuration errors; nothing was sent
		// upstream.
		writeError(w, http.StatusInternalServerError, err.Error())
		o.metrics.RecordRequest(providerName, http.StatusInternalServerError, time.Since(start))
		return
	}

	var (
		rlKey    string
		rlResult *ratelimit.CheckResult
	)
	if preq.RateLimit != nil {
		if preq.AuthHash == "" {
			writeError(w, http.StatusUnauthorized, "rate limiting requires an auth credential")
			o.metrics.RecordRequest(preq.Provider, http.StatusUnauthorized, time.Since(start))
			return
		}
		key, err := ratelimit.Key(preq.RateLimit, preq.AuthHash, preq.UserID, preq.Properties)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			o.metrics.RecordRequest(preq.Provider, http.StatusBadRequest, time.Since(start))
			return
		}
		rlKey = key

		res := o.limiter.Check(r.Context(), key, preq.RateLimit)
		rlResult = &res
		if res.Status == ratelimit.StatusRateLimited {
			o.metrics.RecordRateLimitCheck("rate_limited")
			o.assembler.WriteRateLimited(w, preq, res)
			o.submitDenied(preq)
			o.metrics.RecordRequest(preq.Provider, http.StatusTooManyRequests, time.Since(start))
			return
		}
		o.metrics.RecordRateLimitCheck("ok")
	}

	resp, err := o.caller.CallWithRetry(r.Context(), provider.CallProps{
		Method:          preq.Method,
		URL:             preq.TargetURL,
		Headers:         preq.InboundHeaders,
		Body:            preq.Body,
		IncreaseTimeout: preq.IncreaseTimeout,
	}, preq.Retry)
	if err != nil {
		o.logger.Error("provider call failed",
			"request_id", preq.RequestID,
			"target_url", preq.TargetURL,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to reach provider")
		o.metrics.RecordRequest(preq.Provider, http.StatusInternalServerError, time.Since(start))
		return
	}

	var icOpts []stream.Option
	if o.ceiling > 0 {
		icOpts = append(icOpts, stream.WithCeiling(o.ceiling))
	}
	ic := stream.NewInterceptor(resp.Body, preq.IsStream, icOpts...)

	var body io.Reader = ic
	if preq.IsStream && preq.StreamForceFormat {
		body = stream.NewCoalescer(ic)
	}

	o.assembler.Write(w, preq, resp, body, rlResult)
	ic.Close()

	status := provider.NormalizeStatus(resp.StatusCode)
	o.metrics.RecordRequest(preq.Provider, status, time.Since(start))

	// The client has its response; logging and usage accounting are
	// fire-and-forget from here.
	go o.finish(preq, status, ic, rlKey)
}

// finish waits for the terminal body event, submits the exchange to
// the log pipeline, and records rate-limit usage.
func (o *Orchestrator) finish(preq *Request, status int, ic *stream.Interceptor, rlKey string) {
	completed := ic.Wait()

	logStatus := status
	switch completed.Reason {
	case stream.ReasonCancel:
		logStatus = logpipe.StatusCancelled
	case stream.ReasonTimeout:
		logStatus = logpipe.StatusTimedOut
	}

	ex := o.exchange(preq)
	ex.ResponseBody = completed.Body
	ex.Status = logStatus
	ex.EndTime = time.UnixMilli(completed.EndTimeUnix)
	if completed.FirstChunkTimeUnix > 0 {
		ex.FirstChunkTime = time.UnixMilli(completed.FirstChunkTimeUnix)
	}
	o.sink.Submit(ex)

	if preq.RateLimit != nil && rlKey != "" {
		var cost float64
		if preq.RateLimit.Unit == ratelimit.UnitCostCents && o.cost != nil {
			cost = o.cost.EstimateDollars(preq.Provider, completed.Body)
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := o.limiter.Record(ctx, rlKey, preq.RateLimit, cost); err != nil {
			o.logger.Warn("usage record failed",
				"request_id", preq.RequestID,
				"error", err,
			)
		}
	}
}

// submitDenied logs a pre-check denial. The provider was never
// contacted, so the exchange carries no response body.
func (o *Orchestrator) submitDenied(preq *Request) {
	ex := o.exchange(preq)
	ex.Status = http.StatusTooManyRequests
	ex.EndTime = time.Now()
	o.sink.Submit(ex)
}

func (o *Orchestrator) exchange(preq *Request) logpipe.Exchange {
	return logpipe.Exchange{
		RequestID:        preq.RequestID,
		Provider:         preq.Provider,
		Path:             preq.Path,
		TargetURL:        preq.TargetURL,
		Method:           preq.Method,
		AuthToken:        preq.AuthToken,
		UserID:           preq.UserID,
		NodeID:           preq.NodeID,
		Properties:       preq.Properties,
		TemplateInfo:     preq.TemplateInfo,
		IsStream:         preq.IsStream,
		OmitRequestBody:  preq.OmitRequestLog,
		OmitResponseBody: preq.OmitResponseLog,
		RequestBody:      string(preq.Body),
		StartTime:        preq.StartTime,
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
