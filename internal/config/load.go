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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for files that are neither TOML nor YAML.
var ErrUnknownFormat = errors.New("unknown config file format")

// definedFunc reports whether a dotted key path was present in the file.
type definedFunc func(keys ...string) bool

// Load reads path, expands ${VAR} references and overlays every key present
// in the file onto Default(). Keys the file omits keep their defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	var ext string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		ext = "toml"
	case ".yaml", ".yml":
		ext = "yaml"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	cfg, err := Parse([]byte(ExpandEnv(string(data))), ext)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes an already expanded document in the given format ("toml"
// or "yaml") and overlays it onto Default().
func Parse(data []byte, format string) (*File, error) {
	var (
		raw     File
		defined definedFunc
	)
	switch format {
	case "toml":
		meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
		}
		defined = meta.IsDefined
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, err
		}
		defined = yamlDefined(tree)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	cfg := Default()
	overlay(cfg, &raw, defined)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func yamlDefined(tree map[string]any) definedFunc {
	return func(keys ...string) bool {
		node := any(tree)
		for _, k := range keys {
			m, ok := node.(map[string]any)
			if !ok {
				return false
			}
			if node, ok = m[k]; !ok {
				return false
			}
		}
		return true
	}
}

//nolint:gocyclo // one branch per key
func overlay(cfg, raw *File, defined definedFunc) {
	if defined("transport", "kind") {
		cfg.Transport.Kind = strings.TrimSpace(raw.Transport.Kind)
	}
	if defined("transport", "port") {
		cfg.Transport.Port = strings.TrimSpace(raw.Transport.Port)
	}
	if defined("transport", "front_ends") {
		cfg.Transport.FrontEnds = raw.Transport.FrontEnds
	}
	if defined("transport", "blocklist") {
		cfg.Transport.Blocklist = raw.Transport.Blocklist
	}
	if defined("transport", "ignore_paths") {
		cfg.Transport.IgnorePaths = raw.Transport.IgnorePaths
	}
	if defined("transport", "baud_rate") {
		cfg.Transport.BaudRate = raw.Transport.BaudRate
	}
	if defined("transport", "functionfs") {
		cfg.Transport.FunctionFS = strings.TrimSpace(raw.Transport.FunctionFS)
	}
	if defined("transport", "descriptors") {
		cfg.Transport.Descriptors = strings.TrimSpace(raw.Transport.Descriptors)
	}
	if defined("transport", "strings") {
		cfg.Transport.Strings = strings.TrimSpace(raw.Transport.Strings)
	}

	if defined("sink", "kind") {
		cfg.Sink.Kind = strings.TrimSpace(raw.Sink.Kind)
	}
	if defined("sink", "device") {
		cfg.Sink.Device = strings.TrimSpace(raw.Sink.Device)
	}
	if defined("sink", "spi_port") {
		cfg.Sink.SPIPort = strings.TrimSpace(raw.Sink.SPIPort)
	}
	if defined("sink", "spi_speed_hz") {
		cfg.Sink.SPISpeedHz = raw.Sink.SPISpeedHz
	}
	if defined("sink", "dc_pin") {
		cfg.Sink.DCPin = strings.TrimSpace(raw.Sink.DCPin)
	}
	if defined("sink", "reset_pin") {
		cfg.Sink.ResetPin = strings.TrimSpace(raw.Sink.ResetPin)
	}
	if defined("sink", "capture_path") {
		cfg.Sink.CapturePath = strings.TrimSpace(raw.Sink.CapturePath)
	}

	if defined("display", "formats") {
		cfg.Display.Formats = raw.Display.Formats
	}
	if defined("display", "modes") {
		cfg.Display.Modes = raw.Display.Modes
	}
	if defined("display", "max_buffer_size") {
		cfg.Display.MaxBufferSize = raw.Display.MaxBufferSize
	}
	if defined("display", "lz4") {
		cfg.Display.LZ4 = raw.Display.LZ4
	}
	if defined("display", "full_update") {
		cfg.Display.FullUpdate = raw.Display.FullUpdate
	}
	if defined("display", "backlight") {
		cfg.Display.Backlight = raw.Display.Backlight
	}
	if defined("display", "rotation") {
		cfg.Display.Rotation = raw.Display.Rotation
	}
	if defined("display", "edid_file") {
		cfg.Display.EDIDFile = strings.TrimSpace(raw.Display.EDIDFile)
	}

	if defined("session", "transfer_timeout") {
		cfg.Session.TransferTimeout = raw.Session.TransferTimeout
	}
	if defined("session", "queue_depth") {
		cfg.Session.QueueDepth = raw.Session.QueueDepth
	}
	if defined("session", "bulk_chunk_size") {
		cfg.Session.BulkChunkSize = raw.Session.BulkChunkSize
	}

	if defined("log", "debug") {
		cfg.Log.Debug = raw.Log.Debug
	}
	if defined("log", "session_log") {
		cfg.Log.SessionLog = raw.Log.SessionLog
	}
	if defined("log", "lock_timeout") {
		cfg.Log.LockTimeout = raw.Log.LockTimeout
	}
}
