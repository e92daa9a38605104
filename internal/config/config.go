// Copyright 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the gud-gadget configuration file. TOML and YAML are
// both accepted; the format follows the file extension.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportSerialBridge = "serialbridge"
	TransportFunctionFS   = "functionfs"
)

// Sink kinds
const (
	SinkFramebuffer = "fbdev"
	SinkSPIPanel    = "spipanel"
	SinkCapture     = "capture"
	SinkDiscard     = "discard"
)

// File is the parsed configuration file.
type File struct {
	Transport TransportConfig `toml:"transport" yaml:"transport"`
	Sink      SinkConfig      `toml:"sink" yaml:"sink"`
	Display   DisplayConfig   `toml:"display" yaml:"display"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
}

// TransportConfig selects and configures the USB side.
type TransportConfig struct {
	Kind        string `toml:"kind" yaml:"kind"`
	Port        string `toml:"port" yaml:"port"`               // serial device of the USB front-end, or "auto"
	FunctionFS  string `toml:"functionfs" yaml:"functionfs"`   // FunctionFS mount point
	Descriptors string `toml:"descriptors" yaml:"descriptors"` // prebuilt descriptor blob
	Strings     string `toml:"strings" yaml:"strings"`         // prebuilt strings blob
	BaudRate    int    `toml:"baud_rate" yaml:"baud_rate"`

	// FrontEnds and Blocklist hold VID:PID pairs consulted when Port is "auto".
	FrontEnds   []string `toml:"front_ends" yaml:"front_ends"`
	Blocklist   []string `toml:"blocklist" yaml:"blocklist"`
	IgnorePaths []string `toml:"ignore_paths" yaml:"ignore_paths"`
}

// SinkConfig selects and configures the display side.
type SinkConfig struct {
	Kind        string `toml:"kind" yaml:"kind"`
	Device      string `toml:"device" yaml:"device"`
	SPIPort     string `toml:"spi_port" yaml:"spi_port"`
	DCPin       string `toml:"dc_pin" yaml:"dc_pin"`
	ResetPin    string `toml:"reset_pin" yaml:"reset_pin"`
	CapturePath string `toml:"capture_path" yaml:"capture_path"`
	SPISpeedHz  int64  `toml:"spi_speed_hz" yaml:"spi_speed_hz"`
}

// ModeConfig is one advertised display mode.
type ModeConfig struct {
	Width     uint16 `toml:"width" yaml:"width"`
	Height    uint16 `toml:"height" yaml:"height"`
	Refresh   uint32 `toml:"refresh" yaml:"refresh"`
	Preferred bool   `toml:"preferred" yaml:"preferred"`
}

// DisplayConfig describes what the gadget advertises to the host.
type DisplayConfig struct {
	EDIDFile      string       `toml:"edid_file" yaml:"edid_file"`
	Formats       []string     `toml:"formats" yaml:"formats"`
	Modes         []ModeConfig `toml:"modes" yaml:"modes"`
	MaxBufferSize uint32       `toml:"max_buffer_size" yaml:"max_buffer_size"`
	LZ4           bool         `toml:"lz4" yaml:"lz4"`
	FullUpdate    bool         `toml:"full_update" yaml:"full_update"`
	Backlight     bool         `toml:"backlight" yaml:"backlight"`
	Rotation      bool         `toml:"rotation" yaml:"rotation"`
}

// SessionConfig tunes the protocol session.
type SessionConfig struct {
	TransferTimeout Duration `toml:"transfer_timeout" yaml:"transfer_timeout"`
	QueueDepth      int      `toml:"queue_depth" yaml:"queue_depth"`
	BulkChunkSize   int      `toml:"bulk_chunk_size" yaml:"bulk_chunk_size"`
}

// LogConfig controls logging.
type LogConfig struct {
	LockTimeout Duration `toml:"lock_timeout" yaml:"lock_timeout"`
	Debug       bool     `toml:"debug" yaml:"debug"`
	SessionLog  bool     `toml:"session_log" yaml:"session_log"`
}

// Duration accepts strings such as "2s" or "150ms" in either file format.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string. TOML uses this.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText writes the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys a file leaves out.
func Default() *File {
	return &File{
		Transport: TransportConfig{
			Kind:     TransportSerialBridge,
			Port:     "/dev/ttyACM0",
			BaudRate: 921600,
		},
		Sink: SinkConfig{
			Kind:   SinkFramebuffer,
			Device: "/dev/fb0",
		},
		Display: DisplayConfig{
			Formats: []string{"XRGB8888", "RGB565", "RGB888", "R1"},
			Modes:   []ModeConfig{{Width: 640, Height: 480, Refresh: 60, Preferred: true}},
			LZ4:     true,
		},
		Session: SessionConfig{
			TransferTimeout: Duration{2 * time.Second},
			QueueDepth:      2,
			BulkChunkSize:   16 * 1024,
		},
	}
}
