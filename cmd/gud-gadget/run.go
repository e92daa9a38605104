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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"github.com/ZaparooProject/go-gud/internal/config"
	"github.com/ZaparooProject/go-gud/internal/syncutil"
	"github.com/ZaparooProject/go-gud/sink/capture"
	"github.com/ZaparooProject/go-gud/sink/fbdev"
	"github.com/ZaparooProject/go-gud/sink/spipanel"
	"github.com/ZaparooProject/go-gud/transport/functionfs"
	"github.com/ZaparooProject/go-gud/transport/serialbridge"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Serve a host until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "configuration file (.toml, .yaml or .yml)",
				EnvVars: []string{"GUD_GADGET_CONFIG"},
			},
			&cli.StringFlag{Name: "transport", Usage: "transport kind: serialbridge or functionfs"},
			&cli.StringFlag{Name: "port", Usage: "serial device of the USB front-end, or auto to detect it"},
			&cli.StringFlag{Name: "functionfs", Usage: "FunctionFS mount point"},
			&cli.StringFlag{Name: "sink", Usage: "sink kind: fbdev, spipanel, capture or discard"},
			&cli.StringFlag{Name: "device", Usage: "framebuffer device"},
			&cli.StringFlag{Name: "capture", Usage: "also record every presented frame to this file"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging", EnvVars: []string{"GUD_DEBUG"}},
			&cli.BoolFlag{Name: "session-log", Usage: "write a session log file"},
		},
		Action: runAction,
	}
}

// overrides are the run flags that replace configuration values.
type overrides struct {
	transport  *string
	port       *string
	functionfs *string
	sink       *string
	device     *string
	capture    *string
	debug      *bool
	sessionLog *bool
}

func overridesFromContext(c *cli.Context) overrides {
	var o overrides
	str := func(name string) *string {
		if !c.IsSet(name) {
			return nil
		}
		v := c.String(name)
		return &v
	}
	boolean := func(name string) *bool {
		if !c.IsSet(name) {
			return nil
		}
		v := c.Bool(name)
		return &v
	}
	o.transport = str("transport")
	o.port = str("port")
	o.functionfs = str("functionfs")
	o.sink = str("sink")
	o.device = str("device")
	o.capture = str("capture")
	o.debug = boolean("debug")
	o.sessionLog = boolean("session-log")
	return o
}

func (o overrides) apply(cfg *config.File) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Transport.Kind, o.transport)
	set(&cfg.Transport.Port, o.port)
	set(&cfg.Transport.FunctionFS, o.functionfs)
	set(&cfg.Sink.Kind, o.sink)
	set(&cfg.Sink.Device, o.device)
	set(&cfg.Sink.CapturePath, o.capture)
	if o.debug != nil {
		cfg.Log.Debug = *o.debug
	}
	if o.sessionLog != nil {
		cfg.Log.SessionLog = *o.sessionLog
	}
}

func loadConfig(path string, o overrides) (*config.File, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"), overridesFromContext(c))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	gud.SetDebugEnabled(cfg.Log.Debug)
	if cfg.Log.SessionLog {
		path, logErr := gud.InitSessionLog()
		if logErr != nil {
			return fmt.Errorf("failed to start session log: %w", logErr)
		}
		defer func() { _ = gud.CloseSessionLog() }()
		fmt.Fprintf(c.App.ErrWriter, "session log: %s\n", path)
	}
	if d := cfg.LockTimeout(); d > 0 {
		syncutil.SetLockTimeout(d)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.File) error {
	log := gud.Logger().Named("gadget")

	opts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}

	sink, closers, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i].Close(); closeErr != nil {
				log.Warn("failed to close sink", zap.Error(closeErr))
			}
		}
	}()

	transport, err := openTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Warn("failed to close transport", zap.Error(closeErr))
		}
	}()

	session, err := gud.NewSession(transport, sink, opts...)
	if err != nil {
		return err
	}

	log.Info("serving",
		zap.String("transport", cfg.Transport.Kind),
		zap.String("sink", cfg.Sink.Kind))

	// Blocked transport reads end when the transport closes.
	go func() {
		<-ctx.Done()
		_ = transport.Close()
	}()

	if err := session.Run(ctx); err != nil && !errors.Is(err, gud.ErrTransportClosed) {
		return err
	}
	stats := session.Stats()
	log.Info("stopped",
		zap.Int64("frames", stats.Presenter.Presented),
		zap.Int64("dropped", stats.Presenter.Dropped))
	return nil
}

func openRetryConfig(log *zap.Logger, what string) *gud.RetryConfig {
	rc := gud.DefaultRetryConfig()
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("open failed, retrying",
			zap.String("device", what),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return rc
}

func openTransport(ctx context.Context, cfg *config.File, log *zap.Logger) (gud.Transport, error) {
	tc := cfg.Transport
	switch tc.Kind {
	case config.TransportSerialBridge:
		return gud.RetryValue(ctx, openRetryConfig(log, tc.Port), func() (gud.Transport, error) {
			port, err := resolvePort(log, tc)
			if err != nil {
				return nil, err
			}
			return serialbridge.New(port,
				serialbridge.WithBaudRate(tc.BaudRate),
				serialbridge.WithLogger(log.Named("serialbridge")))
		})
	case config.TransportFunctionFS:
		descriptors, err := os.ReadFile(tc.Descriptors)
		if err != nil {
			return nil, fmt.Errorf("read descriptors: %w", err)
		}
		strs, err := os.ReadFile(tc.Strings)
		if err != nil {
			return nil, fmt.Errorf("read strings: %w", err)
		}
		return gud.RetryValue(ctx, openRetryConfig(log, tc.FunctionFS), func() (gud.Transport, error) {
			return functionfs.Open(tc.FunctionFS, descriptors, strs,
				functionfs.WithBulkReadSize(cfg.Session.BulkChunkSize),
				functionfs.WithLogger(log.Named("functionfs")))
		})
	default:
		return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
	}
}

// openSink returns the sink to present on and the closers to run on exit,
// innermost first.
func openSink(ctx context.Context, cfg *config.File, log *zap.Logger) (gud.Sink, []io.Closer, error) {
	sc := cfg.Sink
	var (
		sink    gud.Sink
		closers []io.Closer
	)
	switch sc.Kind {
	case config.SinkFramebuffer:
		fb, err := gud.RetryValue(ctx, openRetryConfig(log, sc.Device), func() (*fbdev.Sink, error) {
			fb, err := fbdev.Open(sc.Device)
			if err != nil {
				return nil, gud.NewTransportError("open", sc.Device, err, gud.ErrorTypeTransient)
			}
			return fb, nil
		})
		if err != nil {
			return nil, nil, err
		}
		sink, closers = fb, append(closers, fb)
	case config.SinkSPIPanel:
		width, height := panelSize(cfg)
		panel, err := spipanel.Open(spipanel.Config{
			SPIPort:  sc.SPIPort,
			DCPin:    sc.DCPin,
			ResetPin: sc.ResetPin,
			SpeedHz:  sc.SPISpeedHz,
			Panel:    spipanel.Panel{Width: width, Height: height},
		})
		if err != nil {
			return nil, nil, err
		}
		sink, closers = panel, append(closers, panel)
	case config.SinkCapture:
		rec, err := capture.Create(sc.CapturePath, nil)
		if err != nil {
			return nil, nil, err
		}
		return rec, []io.Closer{rec}, nil
	case config.SinkDiscard:
		sink = gud.DiscardSink
	default:
		return nil, nil, fmt.Errorf("unknown sink kind %q", sc.Kind)
	}

	if sc.CapturePath != "" {
		rec, err := capture.Create(sc.CapturePath, sink)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, err
		}
		sink, closers = rec, append(closers, rec)
	}
	return sink, closers, nil
}

// panelSize picks the preferred configured mode, or the first one.
func panelSize(cfg *config.File) (width, height uint16) {
	modes := cfg.Display.Modes
	if len(modes) == 0 {
		return 0, 0
	}
	pick := modes[0]
	for _, m := range modes {
		if m.Preferred {
			pick = m
			break
		}
	}
	return pick.Width, pick.Height
}

// resolvePort returns the configured serial port, detecting the front-end
// when it is set to "auto". A board that is still enumerating is retried.
func resolvePort(log *zap.Logger, tc config.TransportConfig) (string, error) {
	if tc.Port != serialbridge.AutoPort {
		return tc.Port, nil
	}
	info, err := serialbridge.DetectFirst(serialbridge.DetectOptions{
		FrontEnds:   tc.FrontEnds,
		Blocklist:   tc.Blocklist,
		IgnorePaths: tc.IgnorePaths,
	})
	if err != nil {
		return "", gud.NewTransportError("detect", tc.Port, err, gud.ErrorTypeTransient)
	}
	log.Info("detected front-end",
		zap.String("port", info.Path),
		zap.String("vidpid", info.VIDPID),
		zap.String("product", info.Product))
	return info.Path, nil
}
