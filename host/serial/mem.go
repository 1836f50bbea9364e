package serial

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// MemPort is an in-memory Port standing in for the gateway.
// Bytes passed to Inject are what the host reads; bytes the host writes are
// collected and returned by Written. Reads honor ReadTimeout the way
// tarm/serial does: a timeout yields (0, io.EOF).
type MemPort struct {
	mu      sync.Mutex
	rx      *FifoBuffer
	tx      bytes.Buffer
	timeout time.Duration
	closed  bool
	signal  chan struct{} // closed and replaced whenever state changes
	writes  int
}

// NewMemPort creates an open in-memory port
func NewMemPort(readTimeout time.Duration) *MemPort {
	return &MemPort{
		rx:      NewFifoBuffer(64 * 1024),
		timeout: readTimeout,
		signal:  make(chan struct{}),
	}
}

// MemOpener returns an opener that always hands out p, for injecting into a link
func MemOpener(p *MemPort) func(*Config) (Port, error) {
	return func(*Config) (Port, error) {
		return p, nil
	}
}

// Inject queues bytes for the host to read.
// Returns how many bytes fit in the receive buffer.
func (p *MemPort) Inject(data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	n := p.rx.Write(data)
	p.broadcast()
	return n
}

// Read blocks until data is available, the read timeout elapses, or the port closes
func (p *MemPort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	var deadline <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrPortClosed
		}
		if !p.rx.IsEmpty() {
			n := p.rx.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		wait := p.signal
		p.mu.Unlock()

		select {
		case <-wait:
		case <-deadline:
			return 0, io.EOF
		}
	}
}

// Write records bytes written by the host
func (p *MemPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	p.tx.Write(b)
	p.writes++
	p.broadcast()
	return len(b), nil
}

// Written returns a copy of everything the host has written so far
func (p *MemPort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.tx.Bytes())
}

// Writes returns the number of Write calls seen
func (p *MemPort) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Flush drops unread receive data
func (p *MemPort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPortClosed
	}
	p.rx.Reset()
	return nil
}

// Close closes the port and wakes any blocked reader
func (p *MemPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.broadcast()
	return nil
}

// Closed reports whether Close has been called
func (p *MemPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// broadcast wakes every waiter. Caller holds p.mu.
func (p *MemPort) broadcast() {
	close(p.signal)
	p.signal = make(chan struct{})
}
