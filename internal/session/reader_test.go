package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/serialterm/internal/framer"
	"github.com/banshee-data/serialterm/internal/parse"
	"github.com/banshee-data/serialterm/internal/serialport"
)

// testSink records writes and error lines in arrival order.
type testSink struct {
	mu     sync.Mutex
	writes []string
	errs   []string
}

func (s *testSink) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, text)
	return nil
}

func (s *testSink) WriteError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err.Error())
	return nil
}

func (s *testSink) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *testSink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errs...)
}

type recordedMessage struct {
	message  string
	segments []parse.Segment
}

func runReader(t *testing.T, port serialport.Porter, sink Sink, opts ...framer.Option) []recordedMessage {
	t.Helper()

	var mu sync.Mutex
	var messages []recordedMessage
	onMessage := func(message string, segments []parse.Segment) {
		mu.Lock()
		messages = append(messages, recordedMessage{message, segments})
		mu.Unlock()
	}

	r := NewReader(port, sink, framer.New(opts...), parse.SegmentParser{}, onMessage)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	return messages
}

func TestReader_AssemblesMarkedMessage(t *testing.T) {
	port := serialport.NewDrainingPort("MSH|one|two\n", "EVN|three\n", "<EOF>")
	sink := &testSink{}

	messages := runReader(t, port, sink)

	if len(messages) != 1 {
		t.Fatalf("parsed %d messages, want 1", len(messages))
	}
	if messages[0].message != "MSH|one|two\nEVN|three\n" {
		t.Errorf("message = %q, want marker stripped", messages[0].message)
	}
	if len(messages[0].segments) != 2 {
		t.Errorf("segments = %d, want 2", len(messages[0].segments))
	}
	if messages[0].segments[0].Name != "MSH" {
		t.Errorf("first segment = %q, want MSH", messages[0].segments[0].Name)
	}
}

func TestReader_StreamEndWithoutMarker(t *testing.T) {
	// stream end with no marker: the accumulated text is the final group
	port := serialport.NewDrainingPort("PID|incomplete")
	sink := &testSink{}

	messages := runReader(t, port, sink)

	if len(messages) != 1 {
		t.Fatalf("parsed %d messages, want 1", len(messages))
	}
	if messages[0].message != "PID|incomplete" {
		t.Errorf("message = %q", messages[0].message)
	}
}

func TestReader_OutputOrderMatchesArrival(t *testing.T) {
	chunks := []string{"c1\n", "c2\n", "c3\n", "c4\n", "c5<EOF>"}
	port := serialport.NewDrainingPort(chunks...)
	sink := &testSink{}

	runReader(t, port, sink)

	got := strings.Join(sink.Writes(), "")
	want := "c1\nc2\nc3\nc4\nc5<EOF>"
	if got != want {
		t.Errorf("sink observed %q, want %q", got, want)
	}
}

func TestReader_DisplaysLineUnits(t *testing.T) {
	// a chunk spanning multiple lines reaches the sink one line unit per
	// write
	port := serialport.NewDrainingPort("a\nb\nc")
	sink := &testSink{}

	runReader(t, port, sink)

	writes := sink.Writes()
	want := []string{"a\n", "b\n", "c"}
	if len(writes) != len(want) {
		t.Fatalf("sink writes = %q, want %q", writes, want)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write %d = %q, want %q", i, writes[i], want[i])
		}
	}
}

func TestReader_ParserErrorDoesNotStopLoop(t *testing.T) {
	// first group fails to parse; the loop keeps collecting and the second
	// group still lands
	port := serialport.NewDrainingPort("|broken<EOF>", "MSH|fine\n", "<EOF>")
	sink := &testSink{}

	messages := runReader(t, port, sink)

	if len(sink.Errors()) == 0 {
		t.Error("expected a parse error line in the terminal")
	}
	if len(messages) != 1 {
		t.Fatalf("parsed %d messages, want 1 surviving", len(messages))
	}
	if messages[0].segments[0].Name != "MSH" {
		t.Errorf("surviving segment = %q, want MSH", messages[0].segments[0].Name)
	}
}

func TestReader_FrameCapReported(t *testing.T) {
	port := serialport.NewDrainingPort("0123456789", "0123456789", "tail<EOF>")
	sink := &testSink{}

	runReader(t, port, sink, framer.WithMaxPending(15))

	var sawCap bool
	for _, e := range sink.Errors() {
		if strings.Contains(e, "frame too large") {
			sawCap = true
		}
	}
	if !sawCap {
		t.Errorf("errors = %q, want frame too large", sink.Errors())
	}
}

func TestReader_CancelUnwindsCleanly(t *testing.T) {
	port := serialport.NewScriptedPort()
	port.QueueChunk([]byte("partial data\n"))
	sink := &testSink{}

	r := NewReader(port, sink, framer.New(), parse.SegmentParser{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// let the reader consume the queued chunk and block on the next read
	deadline := time.Now().Add(time.Second)
	for len(sink.Writes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	r.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not unwind after cancel")
	}

	// the lease is free again after unwinding
	h, err := AcquireReadHandle(port, &r.gate)
	if err != nil {
		t.Fatalf("gate still held after cancel: %v", err)
	}
	h.Release()
}

func TestReader_TransportErrorRetriesWhileReadable(t *testing.T) {
	port := serialport.NewDrainingPort("MSH|after|glitch\n", "<EOF>")
	port.ReadError = errTransient
	sink := &testSink{}

	messages := runReader(t, port, sink)

	if len(sink.Errors()) == 0 {
		t.Error("expected the transport error to be reported")
	}
	if len(messages) != 1 {
		t.Fatalf("parsed %d messages after retry, want 1", len(messages))
	}
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient transport error" }

func TestReader_PortGoneEndsLoop(t *testing.T) {
	port := serialport.NewScriptedPort()
	port.QueueChunk([]byte("before close\n"))
	sink := &testSink{}

	r := NewReader(port, sink, framer.New(), parse.SegmentParser{}, nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for len(sink.Writes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	port.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after the port closed")
	}
}

func TestReader_ZeroCopyPort(t *testing.T) {
	port := serialport.NewDirectDrainingPort("MSH|direct\n", "<EOF>")
	sink := &testSink{}

	messages := runReader(t, port, sink)

	if len(messages) != 1 {
		t.Fatalf("parsed %d messages over direct port, want 1", len(messages))
	}
	if messages[0].message != "MSH|direct\n" {
		t.Errorf("message = %q", messages[0].message)
	}
}
