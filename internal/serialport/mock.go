package serialport

import (
	"errors"
	"io"
	"sync"
	"time"
)

// ErrPortClosed is returned by scripted ports once Close has been called.
var ErrPortClosed = errors.New("serial port closed")

// ScriptedPort implements Porter with configurable behaviour for testing.
// Reads drain a queue of scripted chunks one chunk per call, which lets tests
// control exactly how the byte stream is split across reads.
type ScriptedPort struct {
	mu sync.Mutex

	chunks  [][]byte
	drained bool // EOF after the queue empties instead of blocking

	// WriteBuffer captures data written to the port
	writeBuffer []byte

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	closed     bool
	readCalls  int
	writeCalls int

	// readCond wakes readers blocked waiting for data
	readCond *sync.Cond
}

// NewScriptedPort creates a ScriptedPort that blocks reads until data is
// queued or the port is closed.
func NewScriptedPort() *ScriptedPort {
	p := &ScriptedPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// NewDrainingPort creates a ScriptedPort preloaded with chunks that returns
// io.EOF once they are consumed.
func NewDrainingPort(chunks ...string) *ScriptedPort {
	p := NewScriptedPort()
	p.drained = true
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
	return p
}

// QueueChunk appends a chunk to be returned by a subsequent Read call.
func (p *ScriptedPort) QueueChunk(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, append([]byte(nil), data...))
	p.readCond.Signal()
}

// Read returns the next scripted chunk, blocking until one is available
// unless the port drains to EOF.
func (p *ScriptedPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readCalls++

	if p.ReadLatency > 0 {
		p.mu.Unlock()
		time.Sleep(p.ReadLatency)
		p.mu.Lock()
	}

	for {
		if p.closed {
			return 0, ErrPortClosed
		}
		if p.ReadError != nil {
			err := p.ReadError
			p.ReadError = nil
			return 0, err
		}
		if len(p.chunks) > 0 {
			n := copy(buf, p.chunks[0])
			if n == len(p.chunks[0]) {
				p.chunks = p.chunks[1:]
			} else {
				p.chunks[0] = p.chunks[0][n:]
			}
			return n, nil
		}
		if p.drained {
			return 0, io.EOF
		}
		p.readCond.Wait()
	}
}

// Write captures the written bytes.
func (p *ScriptedPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeCalls++

	if p.closed {
		return 0, ErrPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	p.writeBuffer = append(p.writeBuffer, data...)
	return len(data), nil
}

// Close marks the port as closed and wakes any blocked readers.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.readCond.Broadcast()

	return p.CloseError
}

// Closed reports whether Close has been called.
func (p *ScriptedPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// WrittenData returns all data written to the port.
func (p *ScriptedPort) WrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.writeBuffer...)
}

// ReadCalls returns the number of Read calls made so far.
func (p *ScriptedPort) ReadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readCalls
}

// WriteCalls returns the number of Write calls made so far.
func (p *ScriptedPort) WriteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCalls
}

// DirectScriptedPort is a ScriptedPort that additionally supports filling a
// caller-owned buffer, exercising the zero-copy read path in tests.
type DirectScriptedPort struct {
	*ScriptedPort
}

// NewDirectDrainingPort creates a DirectScriptedPort preloaded with chunks.
func NewDirectDrainingPort(chunks ...string) *DirectScriptedPort {
	return &DirectScriptedPort{ScriptedPort: NewDrainingPort(chunks...)}
}

// ReadInto implements DirectReader on top of the scripted chunk queue.
func (p *DirectScriptedPort) ReadInto(buf []byte) (int, bool, error) {
	n, err := p.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, true, nil
	}
	return n, false, err
}

// MockFactory implements Factory for testing.
type MockFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port Porter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options Options
}

// NewMockFactory creates a MockFactory returning the given port.
func NewMockFactory(port Porter) *MockFactory {
	return &MockFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockFactory) Open(path string, opts Options) (Porter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path:    path,
		Options: opts,
	})

	if f.Error != nil {
		return nil, f.Error
	}

	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
