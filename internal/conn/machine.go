// Package conn orchestrates the connection lifecycle: open a serial device,
// run the read loop for the lifetime of the connection, and tear everything
// down exactly once regardless of whether the stream ends on its own or a
// disconnect request wins the race.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/serialterm/internal/framer"
	"github.com/banshee-data/serialterm/internal/monitoring"
	"github.com/banshee-data/serialterm/internal/parse"
	"github.com/banshee-data/serialterm/internal/serialport"
	"github.com/banshee-data/serialterm/internal/session"
)

// State is the connection lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrBusy is returned when a connect or disconnect is requested while a
// transition is already in flight.
var ErrBusy = errors.New("connection state transition in progress")

// ErrNoDevice is returned when connect is attempted without a device.
var ErrNoDevice = errors.New("no device selected")

// Controls reports which UI controls are usable in the current state.
// Parameter controls are editable only while disconnected; the device
// selector is disabled in every other state.
type Controls struct {
	ParamsEditable  bool `json:"params_editable"`
	SelectorEnabled bool `json:"selector_enabled"`
	ToggleEnabled   bool `json:"toggle_enabled"`
}

// active bundles everything owned by one connection. The port reference is
// surrendered through takePort so teardown closes it at most once.
type active struct {
	id      uuid.UUID
	device  string
	options serialport.Options
	reader  *session.Reader
	cancel  context.CancelFunc

	portMu sync.Mutex
	port   serialport.Porter
}

// takePort returns the port and clears the reference; only the first caller
// gets it.
func (a *active) takePort() serialport.Porter {
	a.portMu.Lock()
	defer a.portMu.Unlock()
	port := a.port
	a.port = nil
	return port
}

func (a *active) hasPort() bool {
	a.portMu.Lock()
	defer a.portMu.Unlock()
	return a.port != nil
}

// Machine drives the Disconnected/Connecting/Connected/Disconnecting
// lifecycle for a single connection at a time.
type Machine struct {
	factory   serialport.Factory
	sink      session.Sink
	parser    parse.Parser
	onMessage session.MessageFunc
	frameOpts []framer.Option
	writer    *session.Writer

	mu    sync.Mutex
	state State
	sess  *active
	echo  bool
}

// New creates a Machine in the Disconnected state. onMessage may be nil.
func New(factory serialport.Factory, sink session.Sink, parser parse.Parser, onMessage session.MessageFunc, frameOpts ...framer.Option) *Machine {
	return &Machine{
		factory:   factory,
		sink:      sink,
		parser:    parser,
		onMessage: onMessage,
		frameOpts: frameOpts,
		writer:    session.NewWriter(),
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Controls returns the control enablement snapshot for the current state.
func (m *Machine) Controls() Controls {
	state := m.State()
	return Controls{
		ParamsEditable:  state == Disconnected,
		SelectorEnabled: state == Disconnected,
		ToggleEnabled:   state == Disconnected || state == Connected,
	}
}

// SessionID returns the active session ID, or uuid.Nil when disconnected.
func (m *Machine) SessionID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return uuid.Nil
	}
	return m.sess.id
}

// Device returns the device path of the active connection.
func (m *Machine) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.device
}

// SetEcho toggles local echo of sent keystrokes.
func (m *Machine) SetEcho(on bool) {
	m.mu.Lock()
	m.echo = on
	m.mu.Unlock()
}

// SetFlushOnEnter switches the writer between per-keystroke and
// flush-on-carriage-return modes.
func (m *Machine) SetFlushOnEnter(on bool) {
	if on {
		m.writer.SetMode(session.ModeBuffered)
	} else {
		m.writer.SetMode(session.ModeImmediate)
	}
}

// Send forwards user input to the writer, echoing it locally when enabled.
// Input while disconnected is dropped by the writer with a diagnostic.
func (m *Machine) Send(text string) {
	m.mu.Lock()
	echo := m.echo
	m.mu.Unlock()
	if echo {
		if err := m.sink.Write(text); err != nil {
			monitoring.Logf("echo write failed: %v", err)
		}
	}
	m.writer.Keystroke(text)
}

// Connect resolves the device and parameters, opens the port, and starts the
// read loop. Open failures are reported to the terminal and leave the
// machine Disconnected with controls re-enabled.
func (m *Machine) Connect(device string, options serialport.Options) error {
	if device == "" {
		return ErrNoDevice
	}

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = Connecting
	m.mu.Unlock()

	normalized, err := options.Normalize()
	if err == nil {
		var port serialport.Porter
		port, err = m.factory.Open(device, normalized)
		if err == nil {
			m.start(device, normalized, port)
			return nil
		}
	}

	m.sink.WriteError(err)
	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	return err
}

// start installs the session and launches the reader. Called with the
// machine in Connecting.
func (m *Machine) start(device string, options serialport.Options, port serialport.Porter) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &active{
		id:      uuid.New(),
		device:  device,
		options: options,
		cancel:  cancel,
		port:    port,
	}

	reader := session.NewReader(port, m.sink, framer.New(m.frameOpts...), m.parser, m.onMessage)
	reader.SetReadable(sess.hasPort)
	sess.reader = reader

	m.mu.Lock()
	m.sess = sess
	m.state = Connected
	m.mu.Unlock()
	m.writer.Attach(port)

	monitoring.Logf("session %s connected to %s at %d baud", sess.id, device, options.BaudRate)

	go func() {
		reader.Run(ctx)
		m.readerExited(sess)
	}()
}

// readerExited runs when the read loop ends on its own (stream end or
// transport failure). If a disconnect already tore the session down this is
// a no-op.
func (m *Machine) readerExited(sess *active) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.sess = nil
	m.state = Disconnecting
	m.mu.Unlock()

	m.writer.Detach()
	sess.cancel()
	m.closePort(sess)

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	monitoring.Logf("session %s ended", sess.id)
}

// Disconnect cancels any pending read, closes the device, and always ends
// Disconnected. Close errors are reported but do not block the transition.
// With no active connection it is a no-op.
func (m *Machine) Disconnect() error {
	m.mu.Lock()
	switch m.state {
	case Disconnected:
		m.mu.Unlock()
		return nil
	case Connecting, Disconnecting:
		m.mu.Unlock()
		return ErrBusy
	}
	sess := m.sess
	m.sess = nil
	m.state = Disconnecting
	m.mu.Unlock()

	m.writer.Detach()

	// surrender the port reference before cancelling so a concurrently
	// finishing read loop has nothing left to close
	port := sess.takePort()
	sess.cancel()
	sess.reader.Cancel()

	if port != nil {
		if err := port.Close(); err != nil {
			m.sink.WriteError(err)
		}
	}

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
	monitoring.Logf("session %s disconnected", sess.id)
	return nil
}

// closePort closes whatever port the session still holds, reporting the
// close error without letting it block the state transition.
func (m *Machine) closePort(sess *active) {
	if port := sess.takePort(); port != nil {
		if err := port.Close(); err != nil {
			m.sink.WriteError(err)
		}
	}
}

// Toggle connects when disconnected and disconnects when connected. The
// single toggle mirrors a one-button UI; transitions in flight reject the
// request rather than queueing it.
func (m *Machine) Toggle(device string, options serialport.Options) error {
	switch m.State() {
	case Connected:
		return m.Disconnect()
	case Disconnected:
		return m.Connect(device, options)
	}
	return ErrBusy
}
