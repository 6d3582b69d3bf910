package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfigFile(t, "serialterm.json", `{
		"device": "/dev/ttyUSB0",
		"baud_rate": 115200,
		"auto_connect": true
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GetDevice() != "/dev/ttyUSB0" {
		t.Errorf("GetDevice() = %q", cfg.GetDevice())
	}
	if !cfg.GetAutoConnect() {
		t.Error("GetAutoConnect() = false, want true")
	}

	opts := cfg.PortOptions()
	if opts.BaudRate != 115200 {
		t.Errorf("PortOptions().BaudRate = %d, want 115200", opts.BaudRate)
	}
	// omitted fields stay zero so Normalize applies its defaults
	if opts.DataBits != 0 {
		t.Errorf("PortOptions().DataBits = %d, want 0", opts.DataBits)
	}
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	if cfg.GetDevice() != "" {
		t.Errorf("GetDevice() = %q, want empty", cfg.GetDevice())
	}
	if cfg.GetAutoConnect() {
		t.Error("GetAutoConnect() = true, want false")
	}
	if cfg.GetEcho() {
		t.Error("GetEcho() = true, want false")
	}
	if cfg.GetFrameMarker() != "<EOF>" {
		t.Errorf("GetFrameMarker() = %q, want <EOF>", cfg.GetFrameMarker())
	}
	if cfg.GetFrameMaxPending() != 0 {
		t.Errorf("GetFrameMaxPending() = %d, want 0", cfg.GetFrameMaxPending())
	}
	if cfg.GetExportDir() != "." {
		t.Errorf("GetExportDir() = %q, want .", cfg.GetExportDir())
	}
}

func TestLoadCustomFrameMarker(t *testing.T) {
	path := writeConfigFile(t, "cfg.json", `{"frame_marker": "\u001C\r", "frame_max_pending": 65536}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GetFrameMarker() != "\x1c\r" {
		t.Errorf("GetFrameMarker() = %q", cfg.GetFrameMarker())
	}
	if cfg.GetFrameMaxPending() != 65536 {
		t.Errorf("GetFrameMaxPending() = %d", cfg.GetFrameMaxPending())
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := writeConfigFile(t, "cfg.yaml", `{}`)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a non-.json file")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load() accepted a missing file")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := writeConfigFile(t, "cfg.json", `{"device": `)
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	bad := -1
	empty := ""
	cases := []struct {
		name string
		cfg  Config
	}{
		{"negative baud", Config{BaudRate: &bad}},
		{"empty marker", Config{FrameMarker: &empty}},
		{"negative max pending", Config{FrameMaxPending: &bad}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}
