// Package session owns the per-connection read and write machinery: the
// exclusive read handle over a port's incoming bytes, the read loop that
// assembles framed messages, and the keystroke writer.
package session

import (
	"errors"
	"io"
	"sync"

	"github.com/banshee-data/serialterm/internal/serialport"
)

// ErrReaderBusy is returned when a read handle is requested while another is
// still outstanding on the same port.
var ErrReaderBusy = errors.New("a reader is already active on this port")

// ReadHandle is an exclusive lease on a port's readable side. Read blocks
// until a chunk arrives, the stream finishes, or the handle is cancelled.
// The returned chunk is only valid until the next Read call. A handle is
// spent once Read reports done or an error; callers release it and acquire a
// fresh one to keep reading. Release must be called on every exit path; it
// is idempotent.
type ReadHandle interface {
	Read() (chunk []byte, done bool, err error)
	// Cancel resolves a pending Read early with done=true. Safe to call
	// from another goroutine, repeatedly.
	Cancel()
	// Release frees the lease so another handle can be acquired.
	Release()
}

// readerGate enforces at most one live ReadHandle per port.
type readerGate struct {
	mu   sync.Mutex
	held bool
}

func (g *readerGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	return true
}

func (g *readerGate) release() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}

type readResult struct {
	chunk []byte
	done  bool
	err   error
}

// portReadHandle drives a pump goroutine that performs the blocking
// transport reads. Reads are strictly request-driven: the pump does not
// touch the transport until Read is called, so the loop above controls
// exactly when the next chunk is requested.
type portReadHandle struct {
	requests chan struct{}
	results  chan readResult

	cancel     chan struct{}
	cancelOnce sync.Once

	releaseOnce sync.Once
	gate        *readerGate
}

// AcquireReadHandle leases the readable side of the port. Ports that can
// fill a caller-owned buffer are read without intermediate allocation; all
// others fall back to a generic allocating read. Callers never choose the
// mode. Acquisition fails with ErrReaderBusy while another handle is live.
func AcquireReadHandle(port serialport.Porter, gate *readerGate) (ReadHandle, error) {
	if !gate.tryAcquire() {
		return nil, ErrReaderBusy
	}

	h := &portReadHandle{
		requests: make(chan struct{}),
		results:  make(chan readResult),
		cancel:   make(chan struct{}),
		gate:     gate,
	}

	var readOnce func() readResult
	if direct, ok := port.(serialport.DirectReader); ok {
		buf := make([]byte, serialport.ReadBufferSize)
		readOnce = func() readResult {
			n, done, err := direct.ReadInto(buf)
			return readResult{chunk: buf[:n], done: done, err: err}
		}
	} else {
		readOnce = func() readResult {
			buf := make([]byte, serialport.ReadBufferSize)
			n, err := port.Read(buf)
			if errors.Is(err, io.EOF) {
				return readResult{chunk: buf[:n], done: true}
			}
			return readResult{chunk: buf[:n], err: err}
		}
	}

	go h.pump(readOnce)
	return h, nil
}

func (h *portReadHandle) pump(readOnce func() readResult) {
	defer close(h.results)
	for {
		select {
		case <-h.cancel:
			return
		case <-h.requests:
		}

		res := readOnce()

		select {
		case <-h.cancel:
			return
		case h.results <- res:
		}

		if res.done || res.err != nil {
			return
		}
	}
}

func (h *portReadHandle) Read() ([]byte, bool, error) {
	select {
	case <-h.cancel:
		return nil, true, nil
	case res, ok := <-h.results:
		// the pump already exited; a dead handle reads as finished
		if !ok {
			return nil, true, nil
		}
		return res.chunk, res.done, res.err
	case h.requests <- struct{}{}:
	}

	select {
	case <-h.cancel:
		return nil, true, nil
	case res, ok := <-h.results:
		if !ok {
			return nil, true, nil
		}
		return res.chunk, res.done, res.err
	}
}

func (h *portReadHandle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *portReadHandle) Release() {
	h.releaseOnce.Do(func() {
		h.Cancel() // stop the pump before freeing the lease
		h.gate.release()
	})
}
