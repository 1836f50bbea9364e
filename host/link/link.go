// Package link owns the serial connection to the CAN gateway.
//
// A Link holds at most one open port. Each open port gets one reader
// goroutine (a "generation"); Connect stops the current generation and waits
// for its reader to exit before opening the next port, so two readers never
// share or race over a handle. Writes go through the same Link and are
// serialized.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cangate/host/observability"
	"cangate/host/serial"
	"cangate/protocol"

	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by writes while no port is open
var ErrNotConnected = errors.New("link: not connected")

// FrameHandler receives every decoded frame that passed the protection filter
type FrameHandler func(frame protocol.ReceivedFrame)

// Opener opens a port for a config. serial.Open is the default.
type Opener func(cfg *serial.Config) (serial.Port, error)

// Options configures a Link
type Options struct {
	// Decoder settings for the receive direction
	Decoder protocol.Decoder

	// Protection gates attack-flagged frames. Nil disables the filter stage.
	Protection protocol.ProtectionSource

	// Handler is the frame sink
	Handler FrameHandler

	// Opener overrides how ports are opened
	Opener Opener

	// ReadTimeout bounds each blocking read, and so the reader's
	// cancellation latency
	ReadTimeout time.Duration

	Logger zerolog.Logger
}

// readerHandle tracks one reader generation
type readerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Link is the owned, thread-safe serial connection handle
type Link struct {
	opts Options
	log  zerolog.Logger

	// Connection state, guarded by mu
	mu     sync.Mutex
	port   serial.Port
	device string
	baud   int
	reader *readerHandle

	generation atomic.Uint64

	// Serializes writes to the port
	writeMu sync.Mutex

	// Periodic transmit job, guarded by periodicMu
	periodicMu sync.Mutex
	periodic   *periodicJob

	// Last attack flag seen on the wire (-1 = none yet)
	lastFlag atomic.Int32
}

// New creates a disconnected link
func New(opts Options) *Link {
	if opts.Opener == nil {
		opts.Opener = serial.Open
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	l := &Link{
		opts: opts,
		log:  opts.Logger.With().Str("component", "link").Logger(),
	}
	l.lastFlag.Store(-1)
	return l
}

// Connect opens device at baud, replacing any current connection.
// The previous reader has fully stopped before the new port is opened.
// On failure the link is left disconnected.
func (l *Link) Connect(device string, baud int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopReaderLocked()

	cfg := &serial.Config{
		Device:      device,
		Baud:        baud,
		ReadTimeout: l.opts.ReadTimeout,
	}
	port, err := l.opts.Opener(cfg)
	if err != nil {
		observability.RecordConnect(false)
		l.log.Error().Err(err).Str("device", device).Int("baud", baud).Msg("connect failed")
		return fmt.Errorf("connect %s: %w", device, err)
	}
	observability.RecordConnect(true)

	// Drop whatever the gateway queued before this session
	if err := port.Flush(); err != nil {
		l.log.Warn().Err(err).Str("device", device).Msg("flush stale input")
	}

	gen := l.generation.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	h := &readerHandle{cancel: cancel, done: make(chan struct{})}

	l.port = port
	l.device = device
	l.baud = baud
	l.reader = h

	l.log.Info().Str("device", device).Int("baud", baud).Uint64("generation", gen).Msg("connected")
	go l.readLoop(ctx, port, gen, h.done)
	return nil
}

// Disconnect stops the reader and closes the port
func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopReaderLocked()
}

// Close stops any periodic transmit and disconnects
func (l *Link) Close() error {
	l.StopPeriodic()
	l.Disconnect()
	return nil
}

// stopReaderLocked cancels the reader, closes its port and waits for the
// reader goroutine to exit. Caller holds l.mu.
func (l *Link) stopReaderLocked() {
	if l.reader != nil {
		l.reader.cancel()
	}
	if l.port != nil {
		if err := l.port.Close(); err != nil {
			l.log.Warn().Err(err).Str("device", l.device).Msg("close port")
		}
	}
	if l.reader != nil {
		<-l.reader.done
		l.reader = nil
	}
	if l.port != nil {
		l.log.Info().Str("device", l.device).Uint64("generation", l.generation.Load()).Msg("disconnected")
	}
	l.port = nil
}

// IsConnected returns whether a port is open
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Device returns the current device path and baud rate ("" when disconnected)
func (l *Link) Device() (string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return "", 0
	}
	return l.device, l.baud
}

// Generation returns the current reader generation (0 before the first connect)
func (l *Link) Generation() uint64 {
	return l.generation.Load()
}

// LastAttackFlag returns the attack flag of the most recent flagged frame,
// whether or not it was filtered.
func (l *Link) LastAttackFlag() (string, bool) {
	v := l.lastFlag.Load()
	if v < 0 {
		return "", false
	}
	return fmt.Sprintf("%02X", v), true
}

// currentPort returns the open port or nil
func (l *Link) currentPort() serial.Port {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}
