// Command serialterm serves a browser-based serial terminal: pick a device,
// set the connection parameters, and exchange raw bytes with it through a
// terminal view while assembled messages are handed to the parser.
package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/serialterm/internal/api"
	"github.com/banshee-data/serialterm/internal/config"
	"github.com/banshee-data/serialterm/internal/conn"
	"github.com/banshee-data/serialterm/internal/db"
	"github.com/banshee-data/serialterm/internal/framer"
	"github.com/banshee-data/serialterm/internal/parse"
	"github.com/banshee-data/serialterm/internal/serialport"
	"github.com/banshee-data/serialterm/internal/session"
	"github.com/banshee-data/serialterm/internal/terminal"
	"github.com/banshee-data/serialterm/internal/version"
)

var (
	//go:embed static/*
	staticFiles embed.FS

	listen      = flag.String("listen", ":8080", "HTTP listen address")
	configPath  = flag.String("config", "", "Path to JSON config file")
	device      = flag.String("device", "", "Serial device to connect to at startup (overrides config)")
	baud        = flag.Int("baud", 0, "Baud rate for the startup connection (overrides config)")
	autoConnect = flag.Bool("autoconnect", false, "Connect to the configured device at startup")
	dbFile      = flag.String("db", "serialterm.db", "Path to the SQLite transcript database (empty disables recording)")
	exportDir   = flag.String("export-dir", "", "Directory exported terminal content is written to (overrides config)")
	devMode     = flag.Bool("dev", false, "Run against a scripted mock port fed from the fixtures file")
	fixtures    = flag.String("fixtures", "fixtures.txt", "Fixture data replayed by the mock port in dev mode")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("serialterm %s\n", version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	var factory serialport.Factory
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		factory = serialport.NewMockFactory(serialport.NewDrainingPort(string(data)))
	} else {
		factory = serialport.Opener(serialport.OpenReal)
	}

	var store *db.DB
	if *dbFile != "" {
		var err error
		store, err = db.New(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()
	}

	term := terminal.NewBuffer()
	term.SetConvertEOL(cfg.GetConvertEOL())

	srv := api.NewServer(term, store)
	if dir := *exportDir; dir != "" {
		srv.SetExportDir(dir)
	} else if dir := cfg.GetExportDir(); dir != "" {
		srv.SetExportDir(dir)
	}

	// The message callback closes over machine so assembled messages can be
	// recorded against the live session; it only fires once connected.
	var machine *conn.Machine
	onMessage := session.MessageFunc(func(message string, segments []parse.Segment) {
		if store == nil {
			return
		}
		id := machine.SessionID()
		if err := store.RecordMessage(id.String(), message, len(segments)); err != nil {
			log.Printf("failed to record message: %v", err)
		}
	})

	frameOpts := []framer.Option{framer.WithMarker(cfg.GetFrameMarker())}
	if limit := cfg.GetFrameMaxPending(); limit > 0 {
		frameOpts = append(frameOpts, framer.WithMaxPending(limit))
	}

	machine = conn.New(factory, srv, parse.SegmentParser{}, onMessage, frameOpts...)
	machine.SetEcho(cfg.GetEcho())
	machine.SetFlushOnEnter(cfg.GetFlushOnEnter())
	srv.SetMachine(machine)

	if *autoConnect || cfg.GetAutoConnect() {
		dev := *device
		if dev == "" {
			dev = cfg.GetDevice()
		}
		opts := cfg.PortOptions()
		if *baud > 0 {
			opts.BaudRate = *baud
		}
		if err := machine.Connect(dev, opts); err != nil {
			// startup connect failure is not fatal; the error is already in
			// the terminal and the browser can retry
			log.Printf("startup connect failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		srv.AttachAdminRoutes(mux)

		apiMux := srv.ServeMux()
		mux.Handle("/api/", apiMux)

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./cmd/serialterm/static"))
		} else {
			staticRoot, err := fs.Sub(staticFiles, "static")
			if err != nil {
				log.Fatalf("failed to open embedded static files: %v", err)
			}
			staticHandler = http.FileServer(http.FS(staticRoot))
		}
		mux.Handle("/", staticHandler)

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	if err := machine.Disconnect(); err != nil {
		log.Printf("disconnect on shutdown: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
