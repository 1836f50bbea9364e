package link

import (
	"context"
	"fmt"
	"time"

	"cangate/host/observability"
	"cangate/protocol"
)

// AttackFrame is the fixed raw frame the attack demo sends in one-shot mode
var AttackFrame = []byte("CAN_ATTACK_FRAME\n")

// periodicJob tracks the running periodic transmit goroutine
type periodicJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	period time.Duration
}

// SendOnce encodes f and writes it once.
// Encoding errors are input errors and are returned before any I/O.
func (l *Link) SendOnce(f protocol.TransmitFrame) error {
	frame, err := protocol.EncodeTransmitFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return l.write("once", frame)
}

// SendRaw writes a pre-built frame as-is
func (l *Link) SendRaw(frame []byte) error {
	return l.write("raw", frame)
}

// SendPeriodic writes f every period until StopPeriodic is called or
// another periodic job replaces it. Per-attempt failures are logged and the
// loop keeps going. A zero period sends once.
func (l *Link) SendPeriodic(f protocol.TransmitFrame, period time.Duration) error {
	frame, err := protocol.EncodeTransmitFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if period <= 0 {
		return l.write("once", frame)
	}

	l.periodicMu.Lock()
	defer l.periodicMu.Unlock()

	l.stopPeriodicLocked()

	ctx, cancel := context.WithCancel(context.Background())
	job := &periodicJob{
		cancel: cancel,
		done:   make(chan struct{}),
		period: period,
	}
	l.periodic = job

	l.log.Info().Str("can_id", f.CANID).Dur("period", period).Msg("periodic transmit started")
	go l.periodicLoop(ctx, frame, period, job.done)
	return nil
}

// StopPeriodic cancels the periodic job, if any, and waits for it to exit
func (l *Link) StopPeriodic() {
	l.periodicMu.Lock()
	defer l.periodicMu.Unlock()
	l.stopPeriodicLocked()
}

// PeriodicActive reports whether a periodic job is running
func (l *Link) PeriodicActive() bool {
	l.periodicMu.Lock()
	defer l.periodicMu.Unlock()
	return l.periodic != nil
}

func (l *Link) stopPeriodicLocked() {
	if l.periodic == nil {
		return
	}
	l.periodic.cancel()
	<-l.periodic.done
	l.periodic = nil
	l.log.Info().Msg("periodic transmit stopped")
}

func (l *Link) periodicLoop(ctx context.Context, frame []byte, period time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if err := l.write("periodic", frame); err != nil {
			l.log.Warn().Err(err).Msg("periodic send failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// write sends one complete frame to the current port
func (l *Link) write(kind string, frame []byte) error {
	port := l.currentPort()
	if port == nil {
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	n, err := port.Write(frame)
	if err != nil {
		observability.RecordWriteError()
		l.log.Error().Err(err).Str("kind", kind).Msg("uart send error")
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		observability.RecordWriteError()
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}

	observability.RecordFrameSent(kind)
	l.log.Debug().Str("kind", kind).Hex("frame", frame).Msg("frame sent")
	return nil
}
