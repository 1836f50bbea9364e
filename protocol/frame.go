package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Mode is the CAN identifier width class carried in the first byte of a frame
type Mode uint8

const (
	ModeStandard Mode = 0x00 // 11-bit identifier, 2 bytes on the wire
	ModeExtended Mode = 0x01 // 29-bit identifier, 4 bytes on the wire
)

// ModeFromByte maps a wire mode byte to a Mode. Any nonzero byte is Extended.
func ModeFromByte(b byte) Mode {
	if b == 0 {
		return ModeStandard
	}
	return ModeExtended
}

// IDLen returns the number of CAN ID bytes for the mode
func (m Mode) IDLen() int {
	if m == ModeStandard {
		return StandardIDSize
	}
	return ExtendedIDSize
}

// Valid reports whether m is one of the two defined modes
func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModeExtended
}

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "Standard"
	case ModeExtended:
		return "Extended"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses "Standard" or "Extended" (case-insensitive)
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "std":
		return ModeStandard, nil
	case "extended", "ext":
		return ModeExtended, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText renders the mode name, so modes read naturally in JSON and TOML
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts anything ParseMode does
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// PayloadFormat selects how a received payload is rendered for consumers
type PayloadFormat int

const (
	PayloadText PayloadFormat = iota // ASCII with invalid bytes replaced
	PayloadHex                       // Uppercase hex
)

// ParsePayloadFormat parses "text" or "hex"
func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "ascii":
		return PayloadText, nil
	case "hex":
		return PayloadHex, nil
	default:
		return 0, fmt.Errorf("protocol: unknown payload format %q", s)
	}
}

// ReceivedFrame is one fully decoded device->host frame
type ReceivedFrame struct {
	Mode          Mode
	ID            []byte // 2 bytes for Standard, 4 for Extended
	Payload       []byte
	HasAttackFlag bool
	AttackFlag    byte
}

// CANID returns the identifier as uppercase hex, zero-padded to the field width
func (f ReceivedFrame) CANID() string {
	return strings.ToUpper(hex.EncodeToString(f.ID))
}

// Text decodes the payload as ASCII. Bytes outside the ASCII range become U+FFFD.
func (f ReceivedFrame) Text() string {
	var sb strings.Builder
	sb.Grow(len(f.Payload))
	for _, b := range f.Payload {
		if b < 0x80 {
			sb.WriteByte(b)
		} else {
			sb.WriteRune(utf8.RuneError)
		}
	}
	return sb.String()
}

// Hex returns the payload as uppercase hex
func (f ReceivedFrame) Hex() string {
	return strings.ToUpper(hex.EncodeToString(f.Payload))
}

// PayloadString renders the payload in the requested format
func (f ReceivedFrame) PayloadString(format PayloadFormat) string {
	if format == PayloadHex {
		return f.Hex()
	}
	return f.Text()
}

// AttackFlagHex returns the trailing flag as two uppercase hex digits, or ""
// when the frame shape carries no flag.
func (f ReceivedFrame) AttackFlagHex() string {
	if !f.HasAttackFlag {
		return ""
	}
	return fmt.Sprintf("%02X", f.AttackFlag)
}

// IsAttack reports whether the frame is flagged as attack-injected
func (f ReceivedFrame) IsAttack() bool {
	return f.HasAttackFlag && f.AttackFlag == AttackFlagValue
}

func (f ReceivedFrame) String() string {
	s := fmt.Sprintf("mode=%s, can_id=%s, data=%s", f.Mode, f.CANID(), f.Text())
	if f.HasAttackFlag {
		s += ", attack_flag=" + f.AttackFlagHex()
	}
	return s
}

// TransmitFrame is a host->device frame request
type TransmitFrame struct {
	Mode           Mode
	CANID          string // hex, zero-padded to 4 or 8 digits when encoded
	Payload        string
	CyclicPeriodMs uint16 // 0 = send once
}

// ParseCANID converts a hex identifier into its wire bytes for the mode.
// Short strings are zero-padded; strings longer than the field are rejected.
func ParseCANID(mode Mode, s string) ([]byte, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(mode))
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	width := mode.IDLen() * 2
	if s == "" || len(s) > width {
		return nil, fmt.Errorf("%w: %q does not fit %d hex digits", ErrInvalidCANID, s, width)
	}
	s = strings.Repeat("0", width-len(s)) + s
	id, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCANID, s, err)
	}
	return id, nil
}
