package serialmux

import "io"

// SerialPorter defines the minimal interface needed for a detector port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
