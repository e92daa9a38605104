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

// Package spipanel presents frames on a MIPI-DCS SPI LCD controller such as
// the ST7789 or ILI9341. Each damaged rectangle becomes one CASET/RASET
// window followed by RAMWR pixel data in big-endian RGB565.
package spipanel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	gud "github.com/ZaparooProject/go-gud"
	"go.uber.org/zap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MIPI DCS commands
const (
	cmdSoftReset    = 0x01
	cmdSleepOut     = 0x11
	cmdNormalMode   = 0x13
	cmdInvertOn     = 0x21
	cmdDisplayOn    = 0x29
	cmdColumnAddr   = 0x2A
	cmdRowAddr      = 0x2B
	cmdMemoryWrite  = 0x2C
	cmdMemoryAccess = 0x36
	cmdPixelFormat  = 0x3A
)

var errNoPanel = errors.New("panel size must be non-zero")

const (
	pixelFormat16bpp = 0x55
	defaultSpeed     = 32 * physic.MegaHertz
	defaultMaxTx     = 4096
)

// Panel describes the controller geometry.
type Panel struct {
	Width  uint16
	Height uint16
	// Offsets of the visible area in controller RAM, e.g. 240x240 ST7789
	// modules mounted at row 80.
	XOffset uint16
	YOffset uint16
	// MemoryAccess is the MADCTL value; it selects rotation and BGR order.
	MemoryAccess byte
	// Invert sends INVON, which most IPS modules need.
	Invert bool
}

// txConn is the part of spi.Conn the sink uses.
type txConn interface {
	Tx(w, r []byte) error
}

// outPin is the part of gpio.PinOut the sink uses.
type outPin interface {
	Out(l gpio.Level) error
}

// Sink drives one SPI panel.
type Sink struct {
	conn   txConn
	dc     outPin
	reset  outPin // optional
	closer func() error
	log    *zap.Logger
	buf    []byte
	panel  Panel
	maxTx  int
}

// Config names the hardware for Open.
type Config struct {
	SPIPort  string // spireg name; empty picks the first port
	DCPin    string // gpioreg name of the data/command pin
	ResetPin string // optional
	SpeedHz  int64
	Panel    Panel
}

// Open initialises periph, opens the SPI port and pins and runs the panel
// init sequence.
func Open(cfg Config) (*Sink, error) {
	if cfg.Panel.Width == 0 || cfg.Panel.Height == 0 {
		return nil, errNoPanel
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	dc := gpioreg.ByName(cfg.DCPin)
	if dc == nil {
		return nil, fmt.Errorf("unknown DC pin %q", cfg.DCPin)
	}
	var reset gpio.PinIO
	if cfg.ResetPin != "" {
		if reset = gpioreg.ByName(cfg.ResetPin); reset == nil {
			return nil, fmt.Errorf("unknown reset pin %q", cfg.ResetPin)
		}
	}

	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.SPIPort, err)
	}
	speed := defaultSpeed
	if cfg.SpeedHz > 0 {
		speed = physic.Frequency(cfg.SpeedHz) * physic.Hertz
	}
	c, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	s := newSink(c, dc, cfg.Panel, gud.Logger().Named("spipanel"))
	if reset != nil {
		s.reset = reset
	}
	s.closer = port.Close
	if err := s.Init(context.Background()); err != nil {
		_ = port.Close()
		return nil, err
	}
	s.log.Info("panel ready",
		zap.String("port", port.String()),
		zap.Uint16("width", cfg.Panel.Width),
		zap.Uint16("height", cfg.Panel.Height),
		zap.Int("max_tx", s.maxTx))
	return s, nil
}

func newSink(c txConn, dc outPin, panel Panel, log *zap.Logger) *Sink {
	maxTx := defaultMaxTx
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		maxTx = min(maxTx, l.MaxTxSize())
	}
	return &Sink{
		conn:  c,
		dc:    dc,
		panel: panel,
		log:   log,
		maxTx: maxTx,
		buf:   make([]byte, 0, int(panel.Width)*2*4),
	}
}

type initStep struct {
	data  []byte
	delay time.Duration
	cmd   byte
}

// Init resets the controller and configures 16-bit pixels.
func (s *Sink) Init(ctx context.Context) error {
	if s.reset != nil {
		for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
			if err := s.reset.Out(l); err != nil {
				return fmt.Errorf("reset pin: %w", err)
			}
			if err := sleep(ctx, 10*time.Millisecond); err != nil {
				return err
			}
		}
	}

	steps := []initStep{
		{cmd: cmdSoftReset, delay: 150 * time.Millisecond},
		{cmd: cmdSleepOut, delay: 120 * time.Millisecond},
		{cmd: cmdPixelFormat, data: []byte{pixelFormat16bpp}},
		{cmd: cmdMemoryAccess, data: []byte{s.panel.MemoryAccess}},
	}
	if s.panel.Invert {
		steps = append(steps, initStep{cmd: cmdInvertOn})
	}
	steps = append(steps,
		initStep{cmd: cmdNormalMode},
		initStep{cmd: cmdDisplayOn, delay: 20 * time.Millisecond},
	)
	for _, st := range steps {
		if err := s.command(st.cmd, st.data...); err != nil {
			return err
		}
		if st.delay > 0 {
			if err := sleep(ctx, st.delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// Present implements gud.Sink.
func (s *Sink) Present(ctx context.Context, frame *gud.DamagedFrame) error {
	for _, r := range frame.Damage {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, ok := s.clip(r)
		if !ok {
			continue
		}
		if err := s.window(r); err != nil {
			return err
		}
		if err := s.writePixels(frame, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) clip(r gud.Rect) (gud.Rect, bool) {
	w, h := uint32(s.panel.Width), uint32(s.panel.Height)
	if r.X >= w || r.Y >= h {
		return gud.Rect{}, false
	}
	r.Width = min(r.Width, w-r.X)
	r.Height = min(r.Height, h-r.Y)
	return r, !r.Empty()
}

func (s *Sink) window(r gud.Rect) error {
	x0 := uint16(r.X) + s.panel.XOffset
	x1 := x0 + uint16(r.Width) - 1
	y0 := uint16(r.Y) + s.panel.YOffset
	y1 := y0 + uint16(r.Height) - 1
	if err := s.command(cmdColumnAddr, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := s.command(cmdRowAddr, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	return s.command(cmdMemoryWrite)
}

// writePixels streams the rectangle as RGB565 big-endian, batching lines up
// to the SPI transfer limit.
func (s *Sink) writePixels(frame *gud.DamagedFrame, r gud.Rect) error {
	lineBytes := int(r.Width) * 2
	if err := s.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("DC pin: %w", err)
	}
	buf := s.buf[:0]
	for y := int(r.Y); y < int(r.Bottom()); y++ {
		start := len(buf)
		buf = slices.Grow(buf, lineBytes)[:start+lineBytes]
		gud.ConvertLineRGB565(buf[start:], frame.Line(y), frame.Format, int(r.X), int(r.Width), true)
		if len(buf) >= s.maxTx {
			if err := s.send(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if err := s.send(buf); err != nil {
			return err
		}
	}
	s.buf = buf[:0]
	return nil
}

// send writes data in chunks no larger than maxTx.
func (s *Sink) send(data []byte) error {
	for len(data) > 0 {
		n := min(len(data), s.maxTx)
		if err := s.conn.Tx(data[:n], nil); err != nil {
			return fmt.Errorf("%w: spi write: %w", gud.ErrSinkUnavailable, err)
		}
		data = data[n:]
	}
	return nil
}

func (s *Sink) command(cmd byte, params ...byte) error {
	if err := s.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("DC pin: %w", err)
	}
	if err := s.conn.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("%w: spi command 0x%02X: %w", gud.ErrSinkUnavailable, cmd, err)
	}
	if len(params) == 0 {
		return nil
	}
	if err := s.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("DC pin: %w", err)
	}
	return s.send(params)
}

// Close releases the SPI port.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	if err := closer(); err != nil {
		return fmt.Errorf("close SPI port: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ gud.Sink = (*Sink)(nil)
