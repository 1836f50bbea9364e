package serial

import (
	"errors"
	"io"
	"os"
	"time"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - MemPort (in-memory gateway for tests and the demo device)
type Port interface {
	io.ReadWriteCloser

	// Flush discards any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate (the gateway firmware runs its UART at 115200 by default)
	Baud int

	// Read timeout. A read that times out returns no data, which the
	// protocol layer treats the same as a short read.
	ReadTimeout time.Duration
}

// DefaultConfig returns a default configuration for the CAN gateway
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: time.Second,
	}
}

// Baudrates lists the rates offered to operators
var Baudrates = []int{115200, 19200, 38400, 57600, 9600}

// ErrPortClosed is returned by ports used after Close
var ErrPortClosed = errors.New("serial: port closed")

// IsClosed reports whether err means the port handle is gone for good
func IsClosed(err error) bool {
	return errors.Is(err, ErrPortClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
