package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"cangate/host/observability"
	"cangate/host/serial"
	"cangate/protocol"

	"github.com/rs/zerolog"
)

const (
	// ioErrorBackoff paces retries after a transport error that did not close the port
	ioErrorBackoff = 10 * time.Millisecond

	// idleBackoff paces attempts once idleSpinLimit short reads came back in
	// a row. A hung-up tty answers every read at once with (0, io.EOF).
	idleBackoff   = 10 * time.Millisecond
	idleSpinLimit = 3
)

// readLoop continuously decodes frames from port until ctx is cancelled,
// the port is closed, or a newer generation takes over
func (l *Link) readLoop(ctx context.Context, port serial.Port, gen uint64, done chan struct{}) {
	defer close(done)

	log := l.log.With().Uint64("generation", gen).Logger()
	log.Debug().Msg("reader started")

	br := bufio.NewReaderSize(port, 512)
	idle := 0

	for {
		if ctx.Err() != nil || l.generation.Load() != gen {
			log.Debug().Msg("reader stopped")
			return
		}

		frame, err := l.readFrame(br)
		if err != nil {
			if !l.handleReadError(ctx, log, err) {
				return
			}
			if !errors.Is(err, protocol.ErrNeedMoreData) {
				idle = 0
				continue
			}
			idle++
			if idle >= idleSpinLimit && !sleepCtx(ctx, idleBackoff) {
				log.Debug().Msg("reader stopped")
				return
			}
			continue
		}

		idle = 0
		l.deliver(log, frame)
	}
}

// sleepCtx waits for d and reports false if ctx ended first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// readFrame gates on the admission threshold, then decodes one frame.
// Peek leaves a sub-threshold trickle buffered for the next attempt.
func (l *Link) readFrame(br *bufio.Reader) (protocol.ReceivedFrame, error) {
	if _, err := br.Peek(protocol.MinAdmissionBytes); err != nil {
		if protocol.IsShortRead(err) {
			return protocol.ReceivedFrame{}, fmt.Errorf("%w: admission", protocol.ErrNeedMoreData)
		}
		return protocol.ReceivedFrame{}, err
	}
	return l.opts.Decoder.Decode(br)
}

// handleReadError logs a failed attempt and reports whether the loop should go on
func (l *Link) handleReadError(ctx context.Context, log zerolog.Logger, err error) bool {
	switch {
	case ctx.Err() != nil || serial.IsClosed(err):
		log.Debug().Err(err).Msg("port closed, reader exiting")
		return false

	case errors.Is(err, protocol.ErrNeedMoreData):
		observability.RecordDecodeError("short")
		log.Trace().Err(err).Msg("attempt discarded")
		return true

	case errors.Is(err, protocol.ErrMalformed):
		observability.RecordDecodeError("malformed")
		log.Warn().Err(err).Msg("malformed frame discarded")
		return true

	default:
		observability.RecordDecodeError("io")
		log.Error().Err(err).Msg("uart read error")
		return sleepCtx(ctx, ioErrorBackoff)
	}
}

// deliver applies the protection filter and hands the frame to the sink
func (l *Link) deliver(log zerolog.Logger, frame protocol.ReceivedFrame) {
	if frame.HasAttackFlag {
		l.lastFlag.Store(int32(frame.AttackFlag))
	}
	observability.RecordFrameDecoded(frame.Mode.String())

	if protocol.Filter(l.opts.Protection, frame) {
		observability.RecordFrameDropped()
		log.Debug().
			Str("can_id", frame.CANID()).
			Str("attack_flag", frame.AttackFlagHex()).
			Msg("signal blocked due to protect mode")
		return
	}

	log.Debug().
		Str("mode", frame.Mode.String()).
		Str("can_id", frame.CANID()).
		Str("data", frame.Text()).
		Str("attack_flag", frame.AttackFlagHex()).
		Msg("uart frame")

	if l.opts.Handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("can_id", frame.CANID()).Msg("frame handler panicked")
		}
	}()
	l.opts.Handler(frame)
}
