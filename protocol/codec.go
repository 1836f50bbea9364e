package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decoder reads receive frames from a byte stream.
//
// The wire format is strictly positional: [mode][id 2|4][len][payload][flag?].
// There is no sync marker, so a short read at any stage discards the attempt;
// bytes already consumed are not pushed back.
type Decoder struct {
	// HasAttackFlag expects one trailing attack flag byte per frame
	HasAttackFlag bool

	// Strict rejects mode bytes other than 0x00/0x01 instead of treating
	// every nonzero byte as Extended
	Strict bool

	// MaxPayload rejects frames declaring a longer payload (0 = no limit)
	MaxPayload int
}

// DecodeReceiveFrame decodes one frame from r with the default decoder settings
func DecodeReceiveFrame(r io.Reader, hasAttackFlag bool) (ReceivedFrame, error) {
	d := Decoder{HasAttackFlag: hasAttackFlag}
	return d.Decode(r)
}

// Decode reads exactly one frame from r.
// Returns ErrNeedMoreData if the stream ran dry or timed out at any stage,
// ErrMalformed if a header field is out of range, or the underlying I/O
// error for anything else. A frame is only returned when fully read.
func (d Decoder) Decode(r io.Reader) (ReceivedFrame, error) {
	var head [1]byte
	if err := readStage(r, head[:], "mode"); err != nil {
		return ReceivedFrame{}, err
	}
	if d.Strict && head[0] > byte(ModeExtended) {
		return ReceivedFrame{}, fmt.Errorf("%w: mode byte 0x%02X", ErrMalformed, head[0])
	}
	mode := ModeFromByte(head[0])

	id := make([]byte, mode.IDLen())
	if err := readStage(r, id, "can id"); err != nil {
		return ReceivedFrame{}, err
	}

	if err := readStage(r, head[:], "length"); err != nil {
		return ReceivedFrame{}, err
	}
	dataLen := int(head[0])
	if d.MaxPayload > 0 && dataLen > d.MaxPayload {
		return ReceivedFrame{}, fmt.Errorf("%w: length %d exceeds %d", ErrMalformed, dataLen, d.MaxPayload)
	}

	payload := make([]byte, dataLen)
	if err := readStage(r, payload, "payload"); err != nil {
		return ReceivedFrame{}, err
	}

	frame := ReceivedFrame{
		Mode:    mode,
		ID:      id,
		Payload: payload,
	}

	if d.HasAttackFlag {
		var flag [FlagByteSize]byte
		if err := readStage(r, flag[:], "attack flag"); err != nil {
			return ReceivedFrame{}, err
		}
		frame.HasAttackFlag = true
		frame.AttackFlag = flag[0]
	}

	return frame, nil
}

// readStage fills buf or reports why it could not
func readStage(r io.Reader, buf []byte, stage string) error {
	if len(buf) == 0 {
		return nil
	}
	_, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if IsShortRead(err) {
		return fmt.Errorf("%w: %s", ErrNeedMoreData, stage)
	}
	return fmt.Errorf("read %s: %w", stage, err)
}

type timeoutError interface {
	Timeout() bool
}

// IsShortRead reports whether err means "nothing usable yet".
// A read timeout is not distinguished from an exhausted stream.
func IsShortRead(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}

// EncodeTransmitFrame builds the wire bytes for a host->device frame:
// [mode][id 2|4][len][payload][period BE16]
func EncodeTransmitFrame(f TransmitFrame) ([]byte, error) {
	id, err := ParseCANID(f.Mode, f.CANID)
	if err != nil {
		return nil, err
	}
	payload := []byte(f.Payload)
	if len(payload) > PayloadMax {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), PayloadMax)
	}

	out := make([]byte, 0, ModeByteSize+len(id)+LengthByteSize+len(payload)+PeriodSize)
	out = append(out, byte(f.Mode))
	out = append(out, id...)
	out = append(out, uint8(len(payload)))
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint16(out, f.CyclicPeriodMs)
	return out, nil
}

// AppendReceiveFrame appends the device->host wire form of f to dst.
// This is what the gateway emits; the host uses it for loopback devices.
func AppendReceiveFrame(dst []byte, f ReceivedFrame) ([]byte, error) {
	if !f.Mode.Valid() {
		return dst, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(f.Mode))
	}
	if len(f.ID) != f.Mode.IDLen() {
		return dst, fmt.Errorf("%w: %d bytes for %s", ErrInvalidCANID, len(f.ID), f.Mode)
	}
	if len(f.Payload) > PayloadMax {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(f.Payload), PayloadMax)
	}

	dst = append(dst, byte(f.Mode))
	dst = append(dst, f.ID...)
	dst = append(dst, uint8(len(f.Payload)))
	dst = append(dst, f.Payload...)
	if f.HasAttackFlag {
		dst = append(dst, f.AttackFlag)
	}
	return dst, nil
}
