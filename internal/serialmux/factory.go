package serialmux

import (
	"go.bug.st/serial"
)

// openPort is replaced in tests.
var openPort = func(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := normalized.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := openPort(path, mode)
	if err != nil {
		return nil, err
	}

	mux := NewSerialMux[serial.Port](port)
	mux.SetFrameRate(normalized.FrameRate)
	return mux, nil
}
