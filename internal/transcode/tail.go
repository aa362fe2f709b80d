package transcode

import (
	"strings"
	"sync"
)

// DefaultTailSize is how much engine stderr is kept for error reports
const DefaultTailSize = 4096

// TailBuffer is an io.Writer that keeps only the last max bytes written
type TailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

// NewTailBuffer creates a buffer capped at max bytes
func NewTailBuffer(max int) *TailBuffer {
	if max <= 0 {
		max = DefaultTailSize
	}
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained text with surrounding whitespace trimmed
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
