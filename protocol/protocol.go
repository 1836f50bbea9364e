// Package protocol implements the UART frame protocol spoken with the CAN gateway
package protocol

import "errors"

// Version represents the cangate protocol layer version
const Version = "0.1.0"

// Protocol constants
const (
	ModeByteSize   = 1 // Mode byte at the head of every frame
	LengthByteSize = 1 // Payload length prefix
	FlagByteSize   = 1 // Trailing attack flag (receive frames only)
	PeriodSize     = 2 // Cyclic period trailer (transmit frames only)

	StandardIDSize = 2
	ExtendedIDSize = 4

	PayloadMax = 255 // Largest payload a one-byte length prefix can declare

	// MinAdmissionBytes is the coarse precondition the reader applies before a
	// decode attempt. It does not guarantee a full frame is available.
	MinAdmissionBytes = 4

	// AttackFlagValue marks a frame injected by the attack source
	AttackFlagValue = 0x01
)

var (
	ErrNeedMoreData    = errors.New("protocol: need more data")
	ErrMalformed       = errors.New("protocol: malformed frame")
	ErrInvalidMode     = errors.New("protocol: invalid mode")
	ErrInvalidCANID    = errors.New("protocol: invalid CAN ID")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)
