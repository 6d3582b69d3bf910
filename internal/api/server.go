// Package api exposes the terminal over HTTP: connection control, keystroke
// input, an SSE stream of terminal output for the browser view, and export
// of the captured text. The server also acts as the terminal sink so output
// can fan out to stream subscribers as it is written.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/serialterm/internal/conn"
	"github.com/banshee-data/serialterm/internal/db"
	"github.com/banshee-data/serialterm/internal/fsutil"
	"github.com/banshee-data/serialterm/internal/monitoring"
	"github.com/banshee-data/serialterm/internal/security"
	"github.com/banshee-data/serialterm/internal/serialport"
	"github.com/banshee-data/serialterm/internal/session"
	"github.com/banshee-data/serialterm/internal/terminal"
	"github.com/banshee-data/serialterm/internal/timeutil"
)

// Server wires the HTTP surface to the connection machine and terminal
// buffer. It implements session.Sink: every write lands in the buffer first
// and is then fanned out to stream subscribers.
type Server struct {
	term      *terminal.Buffer
	store     *db.DB // optional
	fs        fsutil.FileSystem
	clock     timeutil.Clock
	exportDir string
	listPorts func() ([]string, error)

	machine *conn.Machine

	subMu       sync.Mutex
	subscribers map[string]chan string

	traffic trafficCounter
}

var _ session.Sink = (*Server)(nil)

// NewServer creates a Server over the given terminal buffer. store may be
// nil to run without transcript recording.
func NewServer(term *terminal.Buffer, store *db.DB) *Server {
	return &Server{
		term:        term,
		store:       store,
		fs:          fsutil.OSFileSystem{},
		clock:       timeutil.RealClock{},
		exportDir:   ".",
		listPorts:   serialport.List,
		subscribers: make(map[string]chan string),
	}
}

// SetMachine attaches the connection machine. It is separate from NewServer
// because the machine takes the server as its sink; call it before the
// server handles requests.
func (s *Server) SetMachine(m *conn.Machine) {
	s.machine = m
}

// SetExportDir changes where exported terminal content is written.
func (s *Server) SetExportDir(dir string) { s.exportDir = dir }

// Write implements session.Sink. The write is acknowledged only once the
// buffer has consumed it; stream subscribers get a best-effort copy.
func (s *Server) Write(text string) error {
	if err := s.term.Write(text); err != nil {
		return err
	}
	s.traffic.add(len(text))
	s.broadcast(text)
	return nil
}

// WriteError implements session.Sink, rendering the bracketed error tag
// line in the terminal and the stream.
func (s *Server) WriteError(err error) error {
	line := fmt.Sprintf("<ERROR: %v>", err)
	if werr := s.term.WriteLine(line); werr != nil {
		return werr
	}
	s.broadcast(line + "\n")
	return nil
}

// ServeMux returns the public API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/terminal", s.handleTerminal)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/clear", s.handleClear)
	mux.HandleFunc("/api/settings", s.handleSettings)
	return mux
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list ports: %v", err), http.StatusInternalServerError)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	writeJSON(w, map[string]any{"ports": ports})
}

// stateResponse mirrors what the front end binds its controls to.
type stateResponse struct {
	State     string        `json:"state"`
	Controls  conn.Controls `json:"controls"`
	SessionID string        `json:"session_id,omitempty"`
	Device    string        `json:"device,omitempty"`
	RowCount  int           `json:"row_count"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := stateResponse{
		State:    s.machine.State().String(),
		Controls: s.machine.Controls(),
		Device:   s.machine.Device(),
		RowCount: s.term.RowCount(),
	}
	if id := s.machine.SessionID(); id != uuid.Nil {
		resp.SessionID = id.String()
	}
	writeJSON(w, resp)
}

// connectRequest carries the raw selector values from the UI. The baud
// selector may be "custom", in which case CustomBaud holds the typed rate.
type connectRequest struct {
	Device      string `json:"device"`
	Baud        string `json:"baud"`
	CustomBaud  string `json:"custom_baud"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	FlowControl string `json:"flow_control"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	rate, err := serialport.ResolveBaud(req.Baud, req.CustomBaud)
	if err != nil {
		s.WriteError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := serialport.Options{
		BaudRate:    rate,
		DataBits:    req.DataBits,
		StopBits:    req.StopBits,
		Parity:      req.Parity,
		FlowControl: req.FlowControl,
	}

	if err := s.machine.Connect(req.Device, opts); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if s.store != nil {
		if err := s.store.RecordSession(s.machine.SessionID().String(), req.Device, opts); err != nil {
			monitoring.Logf("failed to record session: %v", err)
		}
	}
	writeJSON(w, map[string]any{"state": s.machine.State().String()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := s.machine.SessionID()
	if err := s.machine.Disconnect(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if s.store != nil && sessionID != uuid.Nil {
		if err := s.store.CloseSession(sessionID.String()); err != nil {
			monitoring.Logf("failed to close session record: %v", err)
		}
	}
	writeJSON(w, map[string]any{"state": s.machine.State().String()})
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	s.machine.Send(req.Text)
	if s.store != nil {
		if id := s.machine.SessionID(); id != uuid.Nil {
			if err := s.store.RecordWrite(id.String(), req.Text); err != nil {
				monitoring.Logf("failed to record write: %v", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.term.Text())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	now := s.clock.Now()
	target := filepath.Join(s.exportDir, terminal.ExportFilename(now))
	if err := security.ValidatePathWithinDirectory(target, s.exportDir); err != nil {
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusInternalServerError)
		return
	}
	path, err := s.term.Export(s.fs, s.exportDir, now)
	if err != nil {
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"path": path})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.term.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// settingsRequest toggles the terminal behaviours the UI exposes.
type settingsRequest struct {
	Echo         *bool `json:"echo,omitempty"`
	FlushOnEnter *bool `json:"flush_on_enter,omitempty"`
	ConvertEOL   *bool `json:"convert_eol,omitempty"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Echo != nil {
		s.machine.SetEcho(*req.Echo)
	}
	if req.FlushOnEnter != nil {
		s.machine.SetFlushOnEnter(*req.FlushOnEnter)
	}
	if req.ConvertEOL != nil {
		s.term.SetConvertEOL(*req.ConvertEOL)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode response: %v", err)
	}
}
