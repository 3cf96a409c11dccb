package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// chunkReader yields each chunk in turn, then finishes with err.
type chunkReader struct {
	chunks []string
	err    error
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n == len(r.chunks[0]) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = r.chunks[0][n:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func TestInterceptor_Done(t *testing.T) {
	src := &chunkReader{chunks: []string{"a", "b"}}
	ic := NewInterceptor(src, true)

	got, err := io.ReadAll(ic)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "ab" {
		t.Errorf("passed-through body = %q, want %q", got, "ab")
	}

	completed := ic.Wait()
	if completed.Reason != ReasonDone {
		t.Errorf("reason = %q, want done", completed.Reason)
	}
	if completed.Body != "ab" {
		t.Errorf("captured body = %q, want %q", completed.Body, "ab")
	}
	if completed.FirstChunkTimeUnix == 0 {
		t.Error("first-chunk time not recorded for streaming exchange")
	}
	if completed.EndTimeUnix == 0 {
		t.Error("end time not recorded")
	}
}

func TestInterceptor_ReadErrorIsCancel(t *testing.T) {
	src := &chunkReader{chunks: []string{"partial"}, err: errors.New("connection reset")}
	ic := NewInterceptor(src, true)

	if _, err := io.ReadAll(ic); err == nil {
		t.Fatal("ReadAll() succeeded, want propagated read error")
	}

	completed := ic.Wait()
	if completed.Reason != ReasonCancel {
		t.Errorf("reason = %q, want cancel", completed.Reason)
	}
	if completed.Body != "partial" {
		t.Errorf("captured body = %q, want partial data retained", completed.Body)
	}
}

func TestInterceptor_ErrorBeforeAnyChunk(t *testing.T) {
	src := &chunkReader{err: errors.New("boom")}
	ic := NewInterceptor(src, true)

	if _, err := io.ReadAll(ic); err == nil {
		t.Fatal("ReadAll() succeeded, want error")
	}

	completed := ic.Wait()
	if completed.Reason != ReasonCancel {
		t.Errorf("reason = %q, want cancel", completed.Reason)
	}
	if completed.Body != "" {
		t.Errorf("captured body = %q, want empty", completed.Body)
	}
	if completed.FirstChunkTimeUnix != 0 {
		t.Errorf("first-chunk time = %d, want 0 when no chunk arrived", completed.FirstChunkTimeUnix)
	}
}

func TestInterceptor_CeilingTimeout(t *testing.T) {
	// A source that never produces anything; only the ceiling can end
	// this stream.
	ic := NewInterceptor(io.NopCloser(&blockingReader{}), true, WithCeiling(20*time.Millisecond))

	start := time.Now()
	completed := ic.Wait()
	if completed.Reason != ReasonTimeout {
		t.Errorf("reason = %q, want timeout", completed.Reason)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Wait() took %v, ceiling did not fire", elapsed)
	}
}

// blockingReader blocks forever on Read.
type blockingReader struct{}

func (*blockingReader) Read([]byte) (int, error) {
	select {}
}

func TestInterceptor_SingleResolution(t *testing.T) {
	src := &chunkReader{chunks: []string{"x"}}
	ic := NewInterceptor(src, false)

	if _, err := io.ReadAll(ic); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	first := ic.Wait()

	// A later Close must not overwrite the terminal event.
	ic.Close()
	second := ic.Wait()

	if first != second {
		t.Errorf("terminal event changed after Close: %+v vs %+v", first, second)
	}
	if first.Reason != ReasonDone {
		t.Errorf("reason = %q, want done", first.Reason)
	}
	if !src.closed {
		t.Error("Close() did not close the source")
	}
}

func TestInterceptor_CloseBeforeEOFIsCancel(t *testing.T) {
	src := &chunkReader{chunks: []string{"abc", "never read"}}
	ic := NewInterceptor(src, true)

	buf := make([]byte, 3)
	if _, err := ic.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	ic.Close()

	completed := ic.Wait()
	if completed.Reason != ReasonCancel {
		t.Errorf("reason = %q, want cancel on early close", completed.Reason)
	}
	if completed.Body != "abc" {
		t.Errorf("captured body = %q, want %q", completed.Body, "abc")
	}
}

func TestInterceptor_NonStreamingSkipsFirstChunk(t *testing.T) {
	src := io.NopCloser(strings.NewReader("whole body"))
	ic := NewInterceptor(src, false)

	if _, err := io.ReadAll(ic); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	completed := ic.Wait()
	if completed.FirstChunkTimeUnix != 0 {
		t.Errorf("first-chunk time = %d, want 0 for non-streaming exchange", completed.FirstChunkTimeUnix)
	}
}

func TestInterceptor_ConcurrentWaiters(t *testing.T) {
	src := &chunkReader{chunks: []string{"hello"}}
	ic := NewInterceptor(src, true)

	results := make(chan Completed, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- ic.Wait() }()
	}

	if _, err := io.ReadAll(ic); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case got := <-results:
			if got.Body != "hello" || got.Reason != ReasonDone {
				t.Errorf("waiter %d got %+v", i, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("waiter never resolved")
		}
	}
}
