package serialport

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// ReadBufferSize is the fixed size of the buffer handed to each read call.
const ReadBufferSize = 8192

// Options describes the serial connection parameters used when opening a
// port. The fields intentionally mirror the user-facing configuration model
// so that values coming from the API layer can be passed through without
// additional translation.
type Options struct {
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	FlowControl string `json:"flow_control"`
}

// ResolveBaud turns the baud selector plus the custom-rate text field into a
// concrete rate. A selector of "custom" takes the rate from the text field;
// anything non-numeric is an error so a connection is never attempted with a
// garbage rate.
func ResolveBaud(selector, custom string) (int, error) {
	value := strings.TrimSpace(selector)
	if strings.EqualFold(value, "custom") {
		value = strings.TrimSpace(custom)
		if value == "" {
			return 0, fmt.Errorf("custom baud rate is empty")
		}
	}
	rate, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid baud rate %q", value)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("invalid baud rate %d: must be positive", rate)
	}
	return rate, nil
}

// Normalize validates the options and applies defaults for any unset values.
func (o Options) Normalize() (Options, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	case "M", "MARK":
		parity = "M"
	case "S", "SPACE":
		parity = "S"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, O, M, or S", opts.Parity)
	}
	opts.Parity = parity

	flow := strings.TrimSpace(strings.ToLower(opts.FlowControl))
	if flow == "" {
		flow = "none"
	}
	switch flow {
	case "none", "hardware":
	default:
		return opts, fmt.Errorf("unsupported flow control %q: expected none or hardware", opts.FlowControl)
	}
	opts.FlowControl = flow

	return opts, nil
}

// Equal reports whether two Options describe the same serial configuration.
func (o Options) Equal(other Options) bool {
	normalizedA, errA := o.Normalize()
	normalizedB, errB := other.Normalize()
	if errA != nil || errB != nil {
		return false
	}

	return normalizedA.BaudRate == normalizedB.BaudRate &&
		normalizedA.DataBits == normalizedB.DataBits &&
		normalizedA.StopBits == normalizedB.StopBits &&
		normalizedA.Parity == normalizedB.Parity &&
		normalizedA.FlowControl == normalizedB.FlowControl
}

// SerialMode converts the options into the serial.Mode structure required by
// go.bug.st/serial when opening a port. Hardware flow control is validated
// and recorded but not part of serial.Mode; it is negotiated by the device
// layer where the platform supports it.
func (o Options) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}
