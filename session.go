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

package gud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-gud/internal/syncutil"
	"go.uber.org/zap"
)

// SessionStats aggregates the counters of a session's components.
type SessionStats struct {
	State     DisplayState
	Dispatch  DispatchStats
	Transfer  TransferStats
	Presenter PresenterMetrics
}

// Session runs the GUD protocol for one attached host. It owns the state
// machine, the transfer engine and the dispatcher behind a single mutex that
// is never held across a transport or sink call. Sessions share nothing, so
// several can run side by side.
type Session struct {
	transport  Transport
	config     *Config
	log        *zap.Logger
	sm         *StateMachine
	engine     *TransferEngine
	dispatcher *Dispatcher
	presenter  *Presenter
	now        func() time.Time
	caps       Capabilities
	mu         syncutil.Mutex
}

// NewSession creates a session that serves transport and presents on sink.
func NewSession(transport Transport, sink Sink, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	if sink == nil {
		return nil, errors.New("sink must not be nil")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}
	applyDefaults(config)

	caps, err := config.Capabilities.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid capabilities: %w", err)
	}

	log := config.Logger.Named("session").With(zap.String("transport", string(transport.Type())))
	s := &Session{
		transport: transport,
		config:    config,
		caps:      caps,
		log:       log,
		now:       time.Now,
	}
	s.sm = NewStateMachine(&s.caps)
	s.engine = NewTransferEngine(caps.MaxBufferSize, config.Logger.Named("transfer"))
	s.dispatcher = NewDispatcher(&s.caps, s.sm, s.engine, config.Logger.Named("dispatch"))
	s.presenter = NewPresenter(sink, config.QueueDepth, config.Logger.Named("presenter"))
	return s, nil
}

func applyDefaults(config *Config) {
	if config.Logger == nil {
		config.Logger = Logger()
	}
	if config.TransferTimeout <= 0 {
		config.TransferTimeout = DefaultTransferTimeout
	}
	if config.QueueDepth == 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	if config.BulkChunkSize <= 0 {
		config.BulkChunkSize = DefaultBulkChunkSize
	}
}

// Capabilities returns the normalized capabilities the session advertises.
func (s *Session) Capabilities() Capabilities {
	return s.caps
}

// Start launches the presenter. Run calls it; drivers that feed the session
// through the Handle methods call it themselves and Close when done.
func (s *Session) Start(ctx context.Context) {
	s.presenter.Start(ctx)
}

// Close stops the presenter and drops any pending transfer.
func (s *Session) Close() {
	s.presenter.Stop()
	s.mu.Lock()
	s.engine.Abort()
	s.mu.Unlock()
}

// HandleControl executes one control request. See Dispatcher.HandleControl.
func (s *Session) HandleControl(setup SetupPacket, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher.HandleControl(setup, payload)
}

// HandleBulk feeds one bulk chunk to the transfer engine and queues the
// resulting frame for presentation.
func (s *Session) HandleBulk(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, err := s.engine.Append(chunk)
	if err != nil {
		return err
	}
	if frame != nil {
		s.sm.MarkPresenting()
		// Submit only queues, so a disconnect cannot slip in between.
		s.presenter.Submit(frame)
	}
	return nil
}

// HandleConnectorEvent applies a host link change. A disconnect discards any
// pending transfer and all negotiated state; a reconnect starts over from
// StateUninitialized.
func (s *Session) HandleConnectorEvent(ev ConnectorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev {
	case ConnectorDisconnected:
		s.disconnectLocked()
		s.log.Info("host disconnected")
	case ConnectorConnected:
		s.sm.Connect()
		s.log.Info("host connected", zap.Stringer("state", s.sm.State()))
	default:
		s.log.Warn("unknown connector event", zap.Stringer("event", ev))
	}
}

func (s *Session) disconnectLocked() {
	s.sm.Disconnect()
	s.engine.Reset(NegotiatedDisplayState{})
	if n := s.presenter.Discard(); n > 0 {
		s.log.Debug("queued frames discarded", zap.Int("frames", n))
	}
}

// State returns the current protocol state.
func (s *Session) State() DisplayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.State()
}

// Snapshot returns the negotiated display state, if any.
func (s *Session) Snapshot() (NegotiatedDisplayState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.Snapshot()
}

// Controller returns the controller state.
func (s *Session) Controller() ControllerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.Controller()
}

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		State:     s.sm.State(),
		Dispatch:  s.dispatcher.Stats(),
		Transfer:  s.engine.Stats(),
		Presenter: s.presenter.GetMetrics(),
	}
}

// reapIdle aborts a pending transfer that has been idle too long.
func (s *Session) reapIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idle := s.engine.IdleSince(s.now()); idle > s.config.TransferTimeout {
		s.engine.Abort()
		s.log.Debug("idle transfer aborted", zap.Duration("idle", idle))
	}
}

// Run serves the transport until ctx is cancelled, the transport fails or the
// sink becomes unavailable. Cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Start(ctx)
	defer s.Close()

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for _, loop := range []func(context.Context) error{
		s.controlLoop, s.bulkLoop, s.eventLoop, s.reapLoop,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop(ctx); err != nil {
				errs <- err
			}
		}()
	}

	s.log.Info("session started", zap.Stringer("state", s.State()))

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	case err = <-s.presenter.Failed():
		s.mu.Lock()
		s.disconnectLocked()
		s.mu.Unlock()
	}
	cancel()
	wg.Wait()

	if err != nil {
		s.log.Error("session ended", zap.Error(err))
		return err
	}
	s.log.Info("session ended")
	return nil
}

// loopError decides whether a transport error ends a loop.
func (s *Session) loopError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if IsRetryable(err) && !IsSessionFatal(err) {
		s.log.Debug("transport error, continuing", zap.String("op", op), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Session) controlLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		setup, payload, err := s.transport.ReadControl(ctx)
		if err != nil {
			if err = s.loopError(ctx, "read control", err); err != nil {
				return err
			}
			continue
		}

		resp, herr := s.HandleControl(setup, payload)
		if herr != nil {
			err = s.transport.StallControl(ctx)
		} else {
			if !setup.IsDeviceToHost() {
				resp = nil
			}
			err = s.transport.WriteControlResponse(ctx, resp)
		}
		if err != nil {
			if err = s.loopError(ctx, "complete control", err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) bulkLoop(ctx context.Context) error {
	buf := make([]byte, s.config.BulkChunkSize)
	for ctx.Err() == nil {
		n, err := s.transport.ReadBulk(ctx, buf)
		if err != nil {
			if err = s.loopError(ctx, "read bulk", err); err != nil {
				return err
			}
			continue
		}
		if n == 0 {
			continue
		}
		if err := s.HandleBulk(buf[:n]); err != nil {
			s.log.Debug("bulk data rejected", zap.Int("bytes", n), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) eventLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		ev, err := s.transport.NextConnectorEvent(ctx)
		if err != nil {
			if err = s.loopError(ctx, "connector event", err); err != nil {
				return err
			}
			continue
		}
		s.HandleConnectorEvent(ev)
	}
	return nil
}

func (s *Session) reapLoop(ctx context.Context) error {
	interval := max(s.config.TransferTimeout/4, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.reapIdle()
		}
	}
}
