// Package db persists session transcripts: which device each session talked
// to, every assembled message that came out of the stream, and everything
// written to the port.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/serialterm/internal/serialport"
)

type DB struct {
	*sql.DB
}

// New opens (or creates) the transcript database at path and brings the
// schema up to date.
func New(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqldb}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

// Session is one recorded connection.
type Session struct {
	ID       string
	Device   string
	Options  serialport.Options
	OpenedAt time.Time
	ClosedAt *time.Time
}

// Message is one assembled message received during a session.
type Message struct {
	ID           int64
	SessionID    string
	Raw          string
	SegmentCount int
	ReceivedAt   time.Time
}

// RecordSession inserts a session row at connect time.
func (db *DB) RecordSession(id, device string, opts serialport.Options) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, device, baud_rate, data_bits, stop_bits, parity, flow_control)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, device, opts.BaudRate, opts.DataBits, opts.StopBits, opts.Parity, opts.FlowControl)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// CloseSession stamps the session's close time.
func (db *DB) CloseSession(id string) error {
	_, err := db.Exec(`UPDATE sessions SET closed_at = CURRENT_TIMESTAMP WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// RecordMessage stores one assembled message.
func (db *DB) RecordMessage(sessionID, raw string, segmentCount int) error {
	_, err := db.Exec(`
		INSERT INTO messages (session_id, raw, segment_count) VALUES (?, ?, ?)`,
		sessionID, raw, segmentCount)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// RecordWrite stores data sent to the port.
func (db *DB) RecordWrite(sessionID, data string) error {
	_, err := db.Exec(`INSERT INTO writes (session_id, data) VALUES (?, ?)`, sessionID, data)
	if err != nil {
		return fmt.Errorf("failed to record write: %w", err)
	}
	return nil
}

// Sessions returns all recorded sessions, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT session_id, device, baud_rate, data_bits, stop_bits, parity, flow_control, opened_at, closed_at
		FROM sessions ORDER BY opened_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var closedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.Device, &s.Options.BaudRate, &s.Options.DataBits,
			&s.Options.StopBits, &s.Options.Parity, &s.Options.FlowControl, &s.OpenedAt, &closedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			s.ClosedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Messages returns the messages recorded for a session in arrival order.
func (db *DB) Messages(sessionID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT message_id, session_id, raw, segment_count, received_at
		FROM messages WHERE session_id = ? ORDER BY message_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Raw, &m.SegmentCount, &m.ReceivedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AttachAdminRoutes mounts SQL debugging endpoints under /debug/. These are
// reachable only through the debug handler, not the public API.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://serialterm.db", db.DB, &tailsql.DBOptions{
		Label: "Terminal transcripts",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the transcript database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
