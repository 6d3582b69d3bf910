// Package config loads the optional JSON settings file controlling startup
// defaults: which device to open, the connection parameters, terminal
// behaviour, and frame assembly tuning. Every field is optional; omitted
// fields fall back to the same defaults the HTTP API applies.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/serialterm/internal/framer"
	"github.com/banshee-data/serialterm/internal/serialport"
)

// Config represents the root settings file. All fields are pointers so a
// partial file only overrides what it names.
type Config struct {
	// Connection
	Device      *string `json:"device,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty"`
	FlowControl *string `json:"flow_control,omitempty"`
	AutoConnect *bool   `json:"auto_connect,omitempty"`

	// Terminal behaviour
	Echo         *bool `json:"echo,omitempty"`
	FlushOnEnter *bool `json:"flush_on_enter,omitempty"`
	ConvertEOL   *bool `json:"convert_eol,omitempty"`

	// Frame assembly
	FrameMarker     *string `json:"frame_marker,omitempty"`
	FrameMaxPending *int    `json:"frame_max_pending,omitempty"`

	// Paths
	DBPath    *string `json:"db_path,omitempty"`
	ExportDir *string `json:"export_dir,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and stay under the max file size. Omitted fields keep their
// defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values a bad file could plausibly get wrong. The
// serial parameters themselves are validated again at connect time by
// Options.Normalize; this catches the rest.
func (c *Config) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.FrameMarker != nil && *c.FrameMarker == "" {
		return fmt.Errorf("frame_marker must not be empty")
	}
	if c.FrameMaxPending != nil && *c.FrameMaxPending < 0 {
		return fmt.Errorf("frame_max_pending must not be negative, got %d", *c.FrameMaxPending)
	}
	return nil
}

// Getter methods with fallback defaults.

func (c *Config) GetDevice() string {
	if c.Device != nil {
		return *c.Device
	}
	return ""
}

func (c *Config) GetAutoConnect() bool {
	if c.AutoConnect != nil {
		return *c.AutoConnect
	}
	return false
}

func (c *Config) GetEcho() bool {
	if c.Echo != nil {
		return *c.Echo
	}
	return false
}

func (c *Config) GetFlushOnEnter() bool {
	if c.FlushOnEnter != nil {
		return *c.FlushOnEnter
	}
	return false
}

func (c *Config) GetConvertEOL() bool {
	if c.ConvertEOL != nil {
		return *c.ConvertEOL
	}
	return false
}

func (c *Config) GetFrameMarker() string {
	if c.FrameMarker != nil {
		return *c.FrameMarker
	}
	return framer.DefaultMarker
}

func (c *Config) GetFrameMaxPending() int {
	if c.FrameMaxPending != nil {
		return *c.FrameMaxPending
	}
	return 0 // unlimited
}

func (c *Config) GetDBPath() string {
	if c.DBPath != nil {
		return *c.DBPath
	}
	return ""
}

func (c *Config) GetExportDir() string {
	if c.ExportDir != nil {
		return *c.ExportDir
	}
	return "."
}

// PortOptions assembles a serialport.Options from the configured values.
// Unset fields are zero and picked up by Normalize at connect time.
func (c *Config) PortOptions() serialport.Options {
	var opts serialport.Options
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	if c.FlowControl != nil {
		opts.FlowControl = *c.FlowControl
	}
	return opts
}
