package serialmux

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"go.bug.st/serial"
)

// SerialPorter is what the multiplexer needs from a sensor bridge port.
type SerialPorter interface {
	io.ReadWriteCloser
}

// ErrPortNotFound is returned by Open when the named device is not attached.
var ErrPortNotFound = errors.New("serial port not found")

// listPorts is swapped in tests.
var listPorts = serial.GetPortsList

// Ports lists the serial devices currently attached to the host.
func Ports() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	slices.Sort(ports)
	return ports, nil
}

// Open opens the sensor bridge at path and wraps it in a multiplexer. A
// path that is not among the attached devices fails with ErrPortNotFound
// and names what is attached.
func Open(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		var perr *serial.PortError
		if errors.As(err, &perr) && perr.Code() == serial.PortNotFound {
			attached, _ := Ports()
			return nil, fmt.Errorf("%s: %w (attached: %v)", path, ErrPortNotFound, attached)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}
