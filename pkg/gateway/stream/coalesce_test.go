package stream

import (
	"io"
	"strings"
	"testing"
)

func TestCoalescer_MergesSmallChunks(t *testing.T) {
	src := &chunkReader{chunks: []string{"data: a\n\n", "data: b\n\n", strings.Repeat("x", 60)}}
	r := NewCoalescer(src)

	buf := make([]byte, 256)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("Read() error = %v", err)
	}
	// The two tiny SSE frames must not surface alone; the first
	// delivered chunk carries them merged with the large one.
	want := "data: a\n\ndata: b\n\n" + strings.Repeat("x", 60)
	if got := string(buf[:n]); got != want {
		t.Errorf("first chunk = %q, want merged %q", got, want)
	}
}

func TestCoalescer_FlushesPendingAtEOF(t *testing.T) {
	src := &chunkReader{chunks: []string{"tiny"}}
	r := NewCoalescer(src)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "tiny" {
		t.Errorf("body = %q, want %q (trailing small chunk flushed)", got, "tiny")
	}
}

func TestCoalescer_StreamUnchanged(t *testing.T) {
	const body = "data: one\n\ndata: two\n\ndata: [DONE]\n\n"
	src := &chunkReader{chunks: []string{"data: one\n\n", "data: two\n\n", "data: [DONE]\n\n"}}

	got, err := io.ReadAll(NewCoalescer(src))
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != body {
		t.Errorf("body = %q, want %q", got, body)
	}
}

func TestCoalescer_LargeChunksPassThrough(t *testing.T) {
	big := strings.Repeat("y", 200)
	src := &chunkReader{chunks: []string{big}}
	r := NewCoalescer(src)

	buf := make([]byte, 256)
	n, err := r.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 200 {
		t.Errorf("first read = %d bytes, want 200 (no buffering of large chunks)", n)
	}
}
