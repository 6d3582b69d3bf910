package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/serialterm/internal/framer"
	"github.com/banshee-data/serialterm/internal/monitoring"
	"github.com/banshee-data/serialterm/internal/parse"
	"github.com/banshee-data/serialterm/internal/serialport"
)

// Sink is the display the reader writes into. Write and WriteError return
// once the text has been consumed; the reader will not request the next
// chunk before that, which keeps terminal output in arrival order.
type Sink interface {
	Write(text string) error
	WriteError(err error) error
}

// MessageFunc receives each fully assembled message along with its parsed
// segments. It runs on the reader goroutine.
type MessageFunc func(message string, segments []parse.Segment)

// Reader consumes a port's incoming bytes for the lifetime of a connection:
// it acquires a read handle, pushes decoded chunks to the sink, feeds the
// assembler, and hands completed messages to the parser. Transport and parse
// failures are reported to the sink and the loop keeps going while the port
// stays readable.
type Reader struct {
	port      serialport.Porter
	sink      Sink
	assembler *framer.Assembler
	parser    parse.Parser
	onMessage MessageFunc

	// readable reports whether the port is still worth reading after a
	// transport error. Nil means only the error itself decides.
	readable func() bool

	gate readerGate

	mu     sync.Mutex
	handle ReadHandle // live handle, nil between acquisitions
}

// NewReader wires a reader over an open port. onMessage may be nil.
func NewReader(port serialport.Porter, sink Sink, assembler *framer.Assembler, parser parse.Parser, onMessage MessageFunc) *Reader {
	return &Reader{
		port:      port,
		sink:      sink,
		assembler: assembler,
		parser:    parser,
		onMessage: onMessage,
	}
}

// SetReadable installs the port-availability check consulted after
// transport errors.
func (r *Reader) SetReadable(f func() bool) {
	r.readable = f
}

// Cancel resolves the pending read early so Run can unwind. Safe to call at
// any time, including when no read is in flight.
func (r *Reader) Cancel() {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

func (r *Reader) setHandle(h ReadHandle) {
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
}

// Run executes the read loop until the stream finishes, the context is
// cancelled, or the transport fails terminally. The handle is released on
// every exit path before the next acquisition or before Run returns.
func (r *Reader) Run(ctx context.Context) {
	for ctx.Err() == nil {
		finished := r.collectGroup(ctx)

		message := r.assembler.Finalize()
		if message != "" {
			r.deliver(message)
		}

		if finished {
			return
		}
	}
}

// collectGroup runs the inner message-collection phase: it owns one read
// handle from acquisition to release and accumulates chunks until a marker
// is seen, the stream finishes, or the transport fails. It reports whether
// the outer loop should stop.
func (r *Reader) collectGroup(ctx context.Context) (finished bool) {
	handle, err := AcquireReadHandle(r.port, &r.gate)
	if err != nil {
		r.sink.WriteError(err)
		return true
	}
	r.setHandle(handle)
	defer func() {
		handle.Release()
		// drop the reference so a late Cancel has nothing stale to act on
		r.setHandle(nil)
	}()

	for {
		if ctx.Err() != nil {
			return true
		}

		chunk, done, err := handle.Read()
		if err != nil {
			r.sink.WriteError(err)
			// a fresh handle retries transient errors; a port that is
			// gone ends the session
			if ctx.Err() != nil || r.portGone(err) {
				return true
			}
			return false
		}

		if len(chunk) > 0 {
			text := framer.DecodeText(chunk)
			r.display(text)
			if appendErr := r.assembler.Append(text); appendErr != nil {
				r.sink.WriteError(appendErr)
			}
			if r.assembler.IsComplete(text) {
				return done
			}
		}

		if done {
			return true
		}
	}
}

// portGone reports whether a read error means the port is no longer
// readable.
func (r *Reader) portGone(err error) bool {
	if r.readable != nil && !r.readable() {
		return true
	}
	if errors.Is(err, serialport.ErrPortClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound:
			return true
		}
	}
	return false
}

// display writes decoded text to the sink one line unit at a time, each
// write acknowledged before the next.
func (r *Reader) display(text string) {
	for len(text) > 0 {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line = text[:i+1]
		}
		if err := r.sink.Write(line); err != nil {
			monitoring.Logf("terminal write failed: %v", err)
		}
		text = text[len(line):]
	}
}

// deliver hands an assembled message to the parser. Parse failures are
// reported as error lines and do not stop the session.
func (r *Reader) deliver(message string) {
	segments, err := r.parser.Parse(message)
	if err != nil {
		r.sink.WriteError(err)
		return
	}
	for i, segment := range segments {
		monitoring.Logf("message segment %d: %s (%d fields)", i+1, segment.Name, len(segment.Fields))
	}
	if r.onMessage != nil {
		r.onMessage(message, segments)
	}
}
