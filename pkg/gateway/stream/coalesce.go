package stream

import "io"

// minChunkSize is the threshold below which a read is held back and
// merged with the following one. Some SSE consumers mis-handle event
// frames split across very small TCP segments; coalescing restores
// whole frames at the cost of a little latency.
const minChunkSize = 50

// NewCoalescer wraps src so that reads shorter than minChunkSize are
// buffered and prepended to the next read. The byte stream is
// unchanged, only the chunk boundaries move.
func NewCoalescer(src io.Reader) io.Reader {
	return &coalescer{src: src}
}

type coalescer struct {
	src     io.Reader
	pending []byte
}

func (c *coalescer) Read(p []byte) (int, error) {
	for {
		tmp := make([]byte, len(p))
		n, err := c.src.Read(tmp)
		if n > 0 {
			chunk := append(c.pending, tmp[:n]...)
			c.pending = nil
			if err == nil && len(chunk) < minChunkSize {
				c.pending = chunk
				continue
			}
			m := copy(p, chunk)
			if m < len(chunk) {
				c.pending = chunk[m:]
				return m, nil
			}
			return m, err
		}
		if err != nil {
			if len(c.pending) > 0 {
				m := copy(p, c.pending)
				c.pending = c.pending[m:]
				if len(c.pending) == 0 && err == io.EOF {
					return m, io.EOF
				}
				return m, nil
			}
			return 0, err
		}
	}
}
