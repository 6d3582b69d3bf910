package terminal

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/serialterm/internal/fsutil"
)

func TestBuffer_WriteAndRows(t *testing.T) {
	b := NewBuffer()

	b.Write("partial")
	if got := b.RowCount(); got != 1 {
		t.Errorf("RowCount() = %d, want 1", got)
	}

	b.Write(" row\nnext")
	rows := b.Rows()
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0] != "partial row" {
		t.Errorf("rows[0] = %q, want %q", rows[0], "partial row")
	}
	if rows[1] != "next" {
		t.Errorf("rows[1] = %q, want %q", rows[1], "next")
	}
}

func TestBuffer_WriteLine(t *testing.T) {
	b := NewBuffer()
	b.WriteLine("hello")
	b.WriteLine("world")

	if got := b.Text(); got != "hello\nworld\n" {
		t.Errorf("Text() = %q, want %q", got, "hello\nworld\n")
	}
}

func TestBuffer_WriteError(t *testing.T) {
	b := NewBuffer()
	b.WriteError(errors.New("Port is busy"))

	if got := b.Text(); !strings.Contains(got, "<ERROR: Port is busy>") {
		t.Errorf("Text() = %q, want bracketed error tag line", got)
	}
}

func TestBuffer_ConvertEOL(t *testing.T) {
	b := NewBuffer()
	b.SetConvertEOL(true)
	b.Write("a\rb\r\nc")

	rows := b.Rows()
	want := []string{"a", "b", "c"}
	if len(rows) != len(want) {
		t.Fatalf("len(rows) = %d, want %d (%q)", len(rows), len(want), rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("rows[%d] = %q, want %q", i, rows[i], want[i])
		}
	}
}

func TestBuffer_Selection(t *testing.T) {
	b := NewBuffer()
	b.WriteLine("one")
	b.WriteLine("two")
	b.WriteLine("three")

	if got := b.GetSelection(); got != "" {
		t.Errorf("GetSelection() with no selection = %q, want empty", got)
	}

	b.Select(1, 2)
	if got := b.GetSelection(); got != "two\nthree" {
		t.Errorf("GetSelection() = %q, want %q", got, "two\nthree")
	}

	b.ClearSelection()
	if got := b.GetSelection(); got != "" {
		t.Errorf("GetSelection() after clear = %q, want empty", got)
	}

	// out-of-range bounds are clamped rather than panicking
	b.Select(-3, 99)
	if got := b.GetSelection(); got != b.Text() {
		t.Errorf("clamped selection = %q, want full text", got)
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := NewBuffer()
	b.WriteLine("data")
	b.Clear()

	if got := b.RowCount(); got != 1 {
		t.Errorf("RowCount() after Clear = %d, want 1", got)
	}
	if got := b.Text(); got != "" {
		t.Errorf("Text() after Clear = %q, want empty", got)
	}
}

func TestExportFilename(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	if got := ExportFilename(now); got != "terminal_content_1700000000123.txt" {
		t.Errorf("ExportFilename() = %q, want %q", got, "terminal_content_1700000000123.txt")
	}
}

func TestBuffer_Export(t *testing.T) {
	b := NewBuffer()
	b.WriteLine("captured line")

	fs := fsutil.NewMemoryFileSystem()
	now := time.UnixMilli(42)
	path, err := b.Export(fs, "/exports", now)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if path != "/exports/terminal_content_42.txt" {
		t.Errorf("Export() path = %q", path)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%q) error = %v", path, err)
	}
	if string(data) != b.Text() {
		t.Errorf("exported content = %q, want %q", data, b.Text())
	}
}
