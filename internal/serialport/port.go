// Package serialport provides the device abstraction for the terminal: an
// interface over a bidirectional serial byte stream, connection options, and
// opener indirection so the rest of the system can run against real hardware
// or test doubles.
package serialport

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter extends Porter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// DirectReader is implemented by ports that can fill a caller-owned buffer
// without an intermediate copy. Ports that lack it are read through a
// generic allocating path instead; callers never pick the mode themselves.
type DirectReader interface {
	// ReadInto fills buf with available bytes and reports whether the
	// stream has finished.
	ReadInto(buf []byte) (n int, done bool, err error)
}

// Factory defines an interface for opening serial ports.
// This abstraction enables dependency injection of port creation.
type Factory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts Options) (Porter, error)
}

// Opener is a function type for opening serial ports. It allows for easier
// testing by replacing the opener function.
type Opener func(path string, opts Options) (Porter, error)

// Open implements Factory.
func (f Opener) Open(path string, opts Options) (Porter, error) {
	return f(path, opts)
}
