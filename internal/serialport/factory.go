package serialport

import (
	"go.bug.st/serial"
)

// OpenReal opens a real serial port at the given path using the provided
// options. It satisfies the Opener function type.
func OpenReal(path string, opts Options) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return port, nil
}

// List returns the device paths of the serial ports known to the system.
func List() ([]string, error) {
	return serial.GetPortsList()
}
