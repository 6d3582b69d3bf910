package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Subscribe creates a channel receiving terminal output as it is written.
// The returned ID identifies the subscription when unsubscribing.
func (s *Server) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 64)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Server) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// broadcast fans text out to subscribers. A full subscriber channel is
// skipped so a slow stream consumer cannot stall the read loop.
func (s *Server) broadcast(text string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- text:
		default:
		}
	}
}

// handleStream issues Server-Sent Events carrying terminal output to the
// browser view.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	// initial ping to establish the connection
	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			// SSE data lines cannot contain raw newlines
			for _, line := range strings.Split(payload, "\n") {
				if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
					return
				}
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
