package runner

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// outputTailBytes is how much trailing process output is kept for error reports.
const outputTailBytes = 2048

// tail is an io.Writer that keeps only the last n bytes written to it.
type tail struct {
	mu        sync.Mutex
	n         int
	buf       []byte
	truncated bool
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buf
	// Don't start in the middle of a multi-byte rune.
	for len(b) > 0 && !utf8.RuneStart(b[0]) {
		b = b[1:]
	}
	s := strings.TrimSpace(string(b))
	if t.truncated && s != "" {
		return "..." + s
	}
	return s
}
