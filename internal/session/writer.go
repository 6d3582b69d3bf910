package session

import (
	"sync"

	"github.com/banshee-data/serialterm/internal/monitoring"
	"github.com/banshee-data/serialterm/internal/serialport"
)

// WriteMode selects how keystrokes are turned into port writes.
type WriteMode int

const (
	// ModeImmediate writes every keystroke as it arrives.
	ModeImmediate WriteMode = iota
	// ModeBuffered accumulates keystrokes and flushes the buffer as one
	// write when a carriage return arrives.
	ModeBuffered
)

// Writer owns the writable side of a connection. Each keystroke event
// acquires the write lock, performs at most one port write, and releases;
// the lock is never held across events. Keystrokes arriving while no port is
// attached are dropped with a diagnostic, never surfaced as errors.
type Writer struct {
	mu   sync.Mutex
	port serialport.Porter
	mode WriteMode
	buf  []byte
}

// NewWriter creates a Writer in immediate mode with no port attached.
func NewWriter() *Writer {
	return &Writer{}
}

// Attach points the writer at an open port.
func (w *Writer) Attach(port serialport.Porter) {
	w.mu.Lock()
	w.port = port
	w.mu.Unlock()
}

// Detach drops the port reference. Buffered input is discarded; it belonged
// to the connection that just ended.
func (w *Writer) Detach() {
	w.mu.Lock()
	w.port = nil
	w.buf = nil
	w.mu.Unlock()
}

// SetMode switches between immediate and buffered writes.
func (w *Writer) SetMode(mode WriteMode) {
	w.mu.Lock()
	w.mode = mode
	w.mu.Unlock()
}

// Keystroke handles one unit of user input, already UTF-8 text.
func (w *Writer) Keystroke(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.port == nil {
		monitoring.Logf("dropping keystroke %q: not connected", text)
		return
	}

	if w.mode == ModeImmediate {
		w.write([]byte(text))
		return
	}

	w.buf = append(w.buf, text...)
	if text == "\r" {
		w.write(w.buf)
		w.buf = nil
	}
}

// write performs the single port write for this event. The caller holds the
// lock.
func (w *Writer) write(data []byte) {
	if _, err := w.port.Write(data); err != nil {
		monitoring.Logf("serial write failed: %v", err)
	}
}

// PendingBytes reports how much buffered input awaits a carriage return.
func (w *Writer) PendingBytes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
