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

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/config"
	"github.com/ZaparooProject/go-gud/sink/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func testApp(out *bytes.Buffer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = out
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func TestFormatsCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, testApp(&out).Run([]string{"gud-gadget", "formats"}))

	for _, f := range gud.AllFormats {
		assert.Contains(t, out.String(), f.String())
	}
	assert.Contains(t, out.String(), "0x80")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, testApp(&out).Run([]string{"gud-gadget", "version"}))
	assert.Contains(t, out.String(), "gud-gadget dev")
	assert.Contains(t, out.String(), "protocol version 1")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := testApp(&out).Run([]string{"gud-gadget", "run", "--transport", "carrier-pigeon"})
	require.Error(t, err)

	var exitCoder cli.ExitCoder
	require.ErrorAs(t, err, &exitCoder)
	assert.Equal(t, 2, exitCoder.ExitCode())
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	str := func(s string) *string { return &s }
	yes := true

	tests := []struct {
		check   func(t *testing.T, cfg *config.File)
		name    string
		o       overrides
		wantErr bool
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *config.File) {
				t.Helper()
				assert.Equal(t, config.TransportSerialBridge, cfg.Transport.Kind)
				assert.Equal(t, "/dev/fb0", cfg.Sink.Device)
				assert.False(t, cfg.Log.Debug)
			},
		},
		{
			name: "flags replace values",
			o: overrides{
				port:   str("/dev/ttyUSB3"),
				sink:   str(config.SinkDiscard),
				device: str("/dev/fb1"),
				debug:  &yes,
			},
			check: func(t *testing.T, cfg *config.File) {
				t.Helper()
				assert.Equal(t, "/dev/ttyUSB3", cfg.Transport.Port)
				assert.Equal(t, config.SinkDiscard, cfg.Sink.Kind)
				assert.Equal(t, "/dev/fb1", cfg.Sink.Device)
				assert.True(t, cfg.Log.Debug)
			},
		},
		{
			name: "functionfs",
			o: overrides{
				transport:  str(config.TransportFunctionFS),
				functionfs: str("/dev/ffs-gud"),
			},
			check: func(t *testing.T, cfg *config.File) {
				t.Helper()
				assert.Equal(t, "/dev/ffs-gud", cfg.Transport.FunctionFS)
			},
		},
		{
			name:    "functionfs without mount point",
			o:       overrides{transport: str(config.TransportFunctionFS)},
			wantErr: true,
		},
		{
			name:    "empty port",
			o:       overrides{port: str("")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := loadConfig("", tt.o)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml"), overrides{})
	require.Error(t, err)
}

func TestOpenSinkCapture(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		kind        string
		wantClosers int
	}{
		{name: "capture only", kind: config.SinkCapture, wantClosers: 1},
		{name: "discard with capture", kind: config.SinkDiscard, wantClosers: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			cfg.Sink.Kind = tt.kind
			cfg.Sink.CapturePath = filepath.Join(t.TempDir(), "frames.msgpack")

			sink, closers, err := openSink(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)
			assert.IsType(t, &capture.Sink{}, sink)
			assert.Len(t, closers, tt.wantClosers)
			for _, c := range closers {
				require.NoError(t, c.Close())
			}
		})
	}
}

func TestOpenSinkUnknownKind(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Sink.Kind = "hologram"
	_, _, err := openSink(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestPanelSize(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Display.Modes = []config.ModeConfig{
		{Width: 320, Height: 240},
		{Width: 240, Height: 240, Preferred: true},
	}
	w, h := panelSize(cfg)
	assert.Equal(t, uint16(240), w)
	assert.Equal(t, uint16(240), h)

	cfg.Display.Modes = cfg.Display.Modes[:1]
	w, h = panelSize(cfg)
	assert.Equal(t, uint16(320), w)
	assert.Equal(t, uint16(240), h)
}

func TestResolvePort(t *testing.T) {
	t.Parallel()

	port, err := resolvePort(zap.NewNop(), config.TransportConfig{Port: "/dev/ttyACM2"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM2", port)

	_, err = resolvePort(zap.NewNop(), config.TransportConfig{
		Port:      "auto",
		FrontEnds: []string{"FFFF:FFFF"},
	})
	require.Error(t, err)
	assert.True(t, gud.IsRetryable(err), "detection failures are retried while the board enumerates")
}
