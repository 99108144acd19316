package serialmux

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate is the sensor bridge's factory baud rate.
const DefaultBaudRate = 115200

var supportedBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

var parities = map[string]serial.Parity{
	"N": serial.NoParity, "NONE": serial.NoParity,
	"E": serial.EvenParity, "EVEN": serial.EvenParity,
	"O": serial.OddParity, "ODD": serial.OddParity,
}

// PortOptions are the line settings for the sensor bridge. The zero value
// means 115200 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty"`
}

// ParsePortOptions decodes the daemon's -serial-options JSON. Empty input
// yields the defaults.
func ParsePortOptions(s string) (PortOptions, error) {
	var opts PortOptions
	if strings.TrimSpace(s) != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return opts, fmt.Errorf("parse serial options: %w", err)
		}
	}
	return opts.Normalise()
}

// Normalise fills in defaults and rejects settings the bridge cannot use.
func (o PortOptions) Normalise() (PortOptions, error) {
	if o.BaudRate == 0 {
		o.BaudRate = DefaultBaudRate
	}
	if !slices.Contains(supportedBaudRates, o.BaudRate) {
		return o, fmt.Errorf("unsupported baud rate %d", o.BaudRate)
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 7 || o.DataBits > 8 {
		return o, fmt.Errorf("unsupported data bits %d: the bridge speaks 7 or 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("unsupported stop bits %d", o.StopBits)
	}
	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if p == "" {
		p = "N"
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("unsupported parity %q", o.Parity)
	}
	o.Parity = p[:1]
	return o, nil
}

// String renders the options in the usual 115200 8N1 shorthand.
func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// SerialMode converts normalised options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalise()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: serial.OneStopBit,
	}
	if n.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}
