package store

import "sync"

// lineRing keeps the most recent lines in a fixed circular buffer
type lineRing struct {
	mu    sync.Mutex
	buf   []string
	head  int // next write position
	count int
}

func newLineRing(size int) *lineRing {
	return &lineRing{buf: make([]string, size)}
}

func (r *lineRing) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = line
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// lines returns the buffered lines, newest first
func (r *lineRing) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}
