// Package stream intercepts upstream response bodies.
//
// An Interceptor tees the body: the client reads through it with no
// added buffering while the full text accumulates for logging. Every
// stream produces exactly one terminal Completed value (done, cancel
// or timeout) which is cached and handed to any number of waiters.
package stream

import (
	"io"
	"sync"
	"time"
)

// DefaultCeiling bounds how long waiters can be held before the
// interceptor synthesizes a timeout terminal event.
const DefaultCeiling = 30 * time.Minute

// Reason describes how a stream terminated.
type Reason string

const (
	// ReasonDone: the upstream body ended normally.
	ReasonDone Reason = "done"

	// ReasonCancel: the stream failed or was torn down mid-flight.
	ReasonCancel Reason = "cancel"

	// ReasonTimeout: the capture ceiling elapsed with no terminal
	// event; the body holds whatever had accumulated.
	ReasonTimeout Reason = "timeout"
)

// Completed is the terminal description of a response body.
type Completed struct {
	// Body is the accumulated body text.
	Body string

	// Reason records how the stream ended.
	Reason Reason

	// EndTimeUnix is the terminal timestamp in epoch milliseconds.
	EndTimeUnix int64

	// FirstChunkTimeUnix is the epoch-millisecond timestamp of the
	// first received chunk for streaming exchanges, 0 when no chunk
	// arrived or the exchange was not streaming.
	FirstChunkTimeUnix int64
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithCeiling overrides the capture ceiling.
func WithCeiling(d time.Duration) Option {
	return func(i *Interceptor) { i.ceiling = d }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(i *Interceptor) { i.clock = clock }
}

// Interceptor wraps an upstream body as a pass-through ReadCloser.
type Interceptor struct {
	src      io.ReadCloser
	isStream bool
	ceiling  time.Duration
	clock    func() time.Time

	mu         sync.Mutex
	body       []byte
	firstChunk int64

	completeOnce sync.Once
	done         chan struct{}
	result       Completed
	ceilingTimer *time.Timer
}

// NewInterceptor wraps src. isStream marks the exchange as streaming,
// which enables first-chunk (time-to-first-token) capture.
func NewInterceptor(src io.ReadCloser, isStream bool, opts ...Option) *Interceptor {
	i := &Interceptor{
		src:      src,
		isStream: isStream,
		ceiling:  DefaultCeiling,
		clock:    time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.ceilingTimer = time.AfterFunc(i.ceiling, func() { i.complete(ReasonTimeout) })
	return i
}

// Read passes bytes through to the caller while capturing them. The
// terminal event fires on EOF (done) or any other read error
// (cancel).
func (i *Interceptor) Read(p []byte) (int, error) {
	n, err := i.src.Read(p)
	if n > 0 {
		i.mu.Lock()
		i.body = append(i.body, p[:n]...)
		if i.isStream && i.firstChunk == 0 {
			i.firstChunk = i.clock().UnixMilli()
		}
		i.mu.Unlock()
	}

	if err == io.EOF {
		i.complete(ReasonDone)
	} else if err != nil {
		i.complete(ReasonCancel)
	}
	return n, err
}

// Close closes the upstream body. If no terminal event has fired yet
// the stream is considered cancelled (e.g. the client disconnected
// mid-stream).
func (i *Interceptor) Close() error {
	err := i.src.Close()
	i.complete(ReasonCancel)
	return err
}

// Wait blocks until the terminal event and returns it. All callers
// observe the same Completed value. The capture ceiling guarantees
// the wait is bounded.
func (i *Interceptor) Wait() Completed {
	<-i.done
	return i.result
}

func (i *Interceptor) complete(reason Reason) {
	i.completeOnce.Do(func() {
		i.ceilingTimer.Stop()

		i.mu.Lock()
		i.result = Completed{
			Body:               string(i.body),
			Reason:             reason,
			EndTimeUnix:        i.clock().UnixMilli(),
			FirstChunkTimeUnix: i.firstChunk,
		}
		i.mu.Unlock()

		close(i.done)
	})
}
