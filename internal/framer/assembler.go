// Package framer accumulates decoded text chunks into framed messages. A
// sentinel marker in the stream marks the end of a message group; everything
// appended since the previous marker belongs to the current group.
package framer

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// DefaultMarker is the end-of-message token used when none is configured.
const DefaultMarker = "<EOF>"

// ErrFrameTooLarge is returned by Append when the pending group exceeds the
// configured cap. The group is discarded; the stream itself stays usable.
var ErrFrameTooLarge = errors.New("frame too large")

// Assembler groups chunks into complete messages using a sentinel marker.
// It is pure accumulation state: no timeouts, no I/O.
type Assembler struct {
	marker  string
	pending []string

	// maxPending caps the total pending bytes; zero means unbounded,
	// matching the behaviour of a terminal that trusts its peer.
	maxPending int
	pendingLen int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMarker sets the sentinel marker string.
func WithMarker(marker string) Option {
	return func(a *Assembler) {
		if marker != "" {
			a.marker = marker
		}
	}
}

// WithMaxPending caps the pending group size in bytes.
func WithMaxPending(n int) Option {
	return func(a *Assembler) { a.maxPending = n }
}

// New creates an Assembler with the default marker and no size cap.
func New(opts ...Option) *Assembler {
	a := &Assembler{marker: DefaultMarker}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Marker returns the configured sentinel marker.
func (a *Assembler) Marker() string { return a.marker }

// Append adds a chunk to the pending group. When a size cap is configured and
// the group would exceed it, the group is dropped and ErrFrameTooLarge is
// returned; the caller decides how to surface that.
func (a *Assembler) Append(chunk string) error {
	if a.maxPending > 0 && a.pendingLen+len(chunk) > a.maxPending {
		a.reset()
		return ErrFrameTooLarge
	}
	a.pending = append(a.pending, chunk)
	a.pendingLen += len(chunk)
	return nil
}

// IsComplete reports whether the chunk contains the sentinel marker, meaning
// the current group can be finalized.
func (a *Assembler) IsComplete(chunk string) bool {
	return strings.Contains(chunk, a.marker)
}

// Pending returns the number of chunks accumulated for the current group.
func (a *Assembler) Pending() int { return len(a.pending) }

// Finalize returns the pending chunks in arrival order as one message, with
// every marker occurrence removed, and clears the pending state for the next
// group. Chunks carry their own line endings, so they are concatenated
// without an extra separator.
func (a *Assembler) Finalize() string {
	var b strings.Builder
	b.Grow(a.pendingLen)
	for _, chunk := range a.pending {
		b.WriteString(strings.ReplaceAll(chunk, a.marker, ""))
	}
	a.reset()
	return b.String()
}

func (a *Assembler) reset() {
	a.pending = nil
	a.pendingLen = 0
}

// DecodeText decodes raw bytes as UTF-8 text. Malformed sequences degrade to
// the replacement character rather than failing the read.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
