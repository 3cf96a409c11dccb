package logpipe

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/gateway/pkg/telemetry/metrics"
)

// OrgResolver maps an auth token to its organization context. It is an
// external collaborator; resolution failure aborts logging for that
// exchange only.
type OrgResolver interface {
	ResolveOrg(ctx context.Context, authToken string) (Org, error)
}

// Config sizes the pipeline.
type Config struct {
	// QueueSize bounds the in-memory record queue. A full queue drops
	// new submissions.
	QueueSize int

	// Workers is the number of background consumers.
	Workers int

	// DrainGrace bounds how long Close waits for queued records.
	DrainGrace time.Duration

	// ProcessTimeout bounds one record's resolution, archival and
	// enqueue.
	ProcessTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 5 * time.Second
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Second
	}
}

// Pipeline consumes completed exchanges on background workers and
// enqueues one log record per exchange.
type Pipeline struct {
	cfg      Config
	queue    chan Exchange
	resolver OrgResolver
	tier     *TierLimiter
	bodies   BodyStore
	sink     Queue
	metrics  *metrics.Collector
	logger   *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// New starts the pipeline workers. bodies may be nil to disable body
// archival; tier may be nil to disable the organization-tier limit.
func New(cfg Config, resolver OrgResolver, tier *TierLimiter, bodies BodyStore, sink Queue, collector *metrics.Collector) *Pipeline {
	cfg.ApplyDefaults()
	p := &Pipeline{
		cfg:      cfg,
		queue:    make(chan Exchange, cfg.QueueSize),
		resolver: resolver,
		tier:     tier,
		bodies:   bodies,
		sink:     sink,
		metrics:  collector,
		logger:   slog.Default().With("component", "logpipe"),
		closed:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit hands one exchange to the pipeline without blocking. It
// returns false when the record was dropped (queue full or pipeline
// closed).
func (p *Pipeline) Submit(ex Exchange) bool {
	select {
	case <-p.closed:
		p.metrics.RecordLogDisposition("dropped")
		return false
	default:
	}

	select {
	case p.queue <- ex:
		p.metrics.SetLogQueueDepth(len(p.queue))
		return true
	default:
		p.logger.Warn("log queue full, dropping record", "request_id", ex.RequestID)
		p.metrics.RecordLogDisposition("dropped")
		return false
	}
}

// Close stops accepting work and drains queued records within the
// configured grace period. Records still queued after the grace
// period are dropped.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DrainGrace + time.Second):
		p.logger.Warn("pipeline drain grace elapsed, abandoning workers")
	}
	return nil
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case ex := <-p.queue:
			p.process(ex)
			p.metrics.SetLogQueueDepth(len(p.queue))
		case <-p.closed:
			p.drain()
			return
		}
	}
}

// drain consumes whatever is already queued, bounded by the grace
// deadline.
func (p *Pipeline) drain() {
	deadline := time.Now().Add(p.cfg.DrainGrace)
	for {
		select {
		case ex := <-p.queue:
			if time.Now().After(deadline) {
				p.metrics.RecordLogDisposition("dropped")
				continue
			}
			p.process(ex)
		default:
			return
		}
	}
}

// process handles one exchange end to end. Every failure is recovered
// here; nothing propagates to the request path.
func (p *Pipeline) process(ex Exchange) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProcessTimeout)
	defer cancel()

	org, err := p.resolver.ResolveOrg(ctx, ex.AuthToken)
	if err != nil {
		p.logger.Warn("org resolution failed, skipping log record",
			"request_id", ex.RequestID,
			"error", err,
		)
		p.metrics.RecordLogDisposition("failed")
		return
	}

	if p.tier != nil && !p.tier.Allow(ctx, org) {
		p.emitMarker(ctx, ex, org)
		return
	}

	if p.bodies != nil {
		if payload, err := encodeBodyPayload(ex); err == nil {
			if err := p.bodies.Store(ctx, org.ID, ex.RequestID, payload); err != nil {
				p.logger.Warn("body archival failed",
					"request_id", ex.RequestID,
					"error", err,
				)
			}
		}
	}

	rec := buildRecord(ex, org)
	payload, err := json.Marshal(rec)
	if err != nil {
		p.metrics.RecordLogDisposition("failed")
		return
	}
	if err := p.sink.Enqueue(ctx, TopicLogs, payload); err != nil {
		p.logger.Warn("log enqueue failed",
			"request_id", ex.RequestID,
			"error", err,
		)
		p.metrics.RecordLogDisposition("failed")
		return
	}
	p.metrics.RecordLogDisposition("enqueued")
}

// emitMarker replaces a suppressed log with a lightweight tier-limit
// marker.
func (p *Pipeline) emitMarker(ctx context.Context, ex Exchange, org Org) {
	payload, err := json.Marshal(markerRecord{
		OrganizationID: org.ID,
		RequestID:      ex.RequestID,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return
	}
	if err := p.sink.Enqueue(ctx, TopicRateLimitLog, payload); err != nil {
		p.logger.Warn("marker enqueue failed", "org_id", org.ID, "error", err)
		p.metrics.RecordLogDisposition("failed")
		return
	}
	p.metrics.RecordLogDisposition("suppressed")
}
