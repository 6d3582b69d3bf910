// Package terminal implements the display side of the serial terminal: an
// ordered line buffer that receiving and sending code write into, with
// selection, clear, and export of the captured text.
package terminal

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/serialterm/internal/fsutil"
)

// Sink accepts decoded text for display. Write returns only once the sink
// has consumed the text; callers rely on that to sequence output behind
// display consumption.
type Sink interface {
	// Write appends text to the current row, honouring embedded newlines.
	Write(text string) error
	// WriteLine appends text followed by a line break.
	WriteLine(text string) error
}

// Buffer is an in-memory Sink capturing everything written to the terminal.
type Buffer struct {
	mu   sync.Mutex
	rows []string

	// convertEOL turns lone \r or \n into a row break the way a terminal
	// with CR/LF conversion enabled would.
	convertEOL bool

	selStart, selEnd int
	selected         bool
}

// NewBuffer creates an empty terminal buffer.
func NewBuffer() *Buffer {
	return &Buffer{rows: []string{""}}
}

// SetConvertEOL toggles end-of-line conversion for subsequent writes.
func (b *Buffer) SetConvertEOL(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.convertEOL = on
}

// Write appends text to the buffer. The call returns once the text has been
// consumed, which is the acknowledgement the read loop waits on.
func (b *Buffer) Write(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(text)
	return nil
}

// WriteLine appends text and terminates the row.
func (b *Buffer) WriteLine(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.append(text)
	b.rows = append(b.rows, "")
	return nil
}

// WriteError renders an error as a bracketed tag line. There is no separate
// error channel; errors land in the terminal like everything else.
func (b *Buffer) WriteError(err error) error {
	return b.WriteLine(fmt.Sprintf("<ERROR: %v>", err))
}

func (b *Buffer) append(text string) {
	if b.convertEOL {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")
	}
	for i, part := range strings.Split(text, "\n") {
		if i > 0 {
			b.rows = append(b.rows, "")
		}
		b.rows[len(b.rows)-1] += part
	}
}

// RowCount returns the number of rows currently held, including the
// in-progress final row.
func (b *Buffer) RowCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// Rows returns a snapshot of all rows.
func (b *Buffer) Rows() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.rows...)
}

// Text returns the full captured terminal text.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.rows, "\n")
}

// Select marks an inclusive row range as selected. Out-of-range bounds are
// clamped.
func (b *Buffer) Select(start, end int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if start < 0 {
		start = 0
	}
	if end >= len(b.rows) {
		end = len(b.rows) - 1
	}
	if start > end {
		return
	}
	b.selStart, b.selEnd, b.selected = start, end, true
}

// GetSelection returns the selected rows joined by newlines, or the empty
// string when nothing is selected.
func (b *Buffer) GetSelection() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.selected {
		return ""
	}
	return strings.Join(b.rows[b.selStart:b.selEnd+1], "\n")
}

// ClearSelection drops the current selection.
func (b *Buffer) ClearSelection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = false
}

// Clear empties the terminal.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows = []string{""}
	b.selected = false
}

// ExportFilename returns the export filename for the given time, following
// the terminal_content_<unix_ms>.txt pattern.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("terminal_content_%d.txt", now.UnixMilli())
}

// Export writes the full captured terminal text into dir on the given
// filesystem and returns the path written.
func (b *Buffer) Export(fsys fsutil.FileSystem, dir string, now time.Time) (string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, ExportFilename(now))
	if err := fsys.WriteFile(path, []byte(b.Text()), 0o644); err != nil {
		return "", fmt.Errorf("failed to export terminal content: %w", err)
	}
	return path, nil
}
