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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-gud/internal/syncutil"
	"go.uber.org/zap"
)

// Presenter queue depth limits
const (
	MinQueueDepth     = 1
	MaxQueueDepth     = 2
	DefaultQueueDepth = 2
)

// PresenterMetrics tracks presentation outcomes
type PresenterMetrics struct {
	Presented   int64         // Frames the sink accepted
	Dropped     int64         // Frames replaced in the queue by newer ones
	Failures    int64         // Sink failures (at most one per presenter)
	LastLatency time.Duration // Duration of the last Present call
}

// Presenter hands frames to a sink on its own goroutine so a slow display
// never stalls USB servicing. The queue is bounded; when it is full the
// oldest frame is dropped and its damage carried into the frame that takes
// its place. A sink failure is not retried: the presenter stops and reports
// ErrSinkUnavailable once on Failed.
type Presenter struct {
	// Atomic counters first for 64-bit alignment on 32-bit gadget boards
	presented   int64
	dropped     int64
	failures    int64
	lastLatency int64 // in nanoseconds
	running     int64 // 0 = stopped, 1 = running

	sink     Sink
	log      *zap.Logger
	wake     chan struct{}
	stopChan chan struct{}
	failed   chan error
	queue    []*DamagedFrame
	wg       sync.WaitGroup
	mu       syncutil.Mutex
	depth    int
	closed   bool
}

// NewPresenter creates a presenter with a queue of depth frames, clamped to
// MinQueueDepth..MaxQueueDepth.
func NewPresenter(sink Sink, depth int, log *zap.Logger) *Presenter {
	if log == nil {
		log = zap.NewNop()
	}
	depth = min(max(depth, MinQueueDepth), MaxQueueDepth)
	return &Presenter{
		sink:     sink,
		log:      log,
		depth:    depth,
		queue:    make([]*DamagedFrame, 0, depth),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		failed:   make(chan error, 1),
	}
}

// Start launches the presentation goroutine. Calling it again is a no-op.
func (p *Presenter) Start(ctx context.Context) {
	if atomic.CompareAndSwapInt64(&p.running, 0, 1) {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Submit queues a frame, taking ownership of it. It reports whether an older
// frame had to be dropped to make room.
func (p *Presenter) Submit(frame *DamagedFrame) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		frame.Release()
		return false
	}
	dropped := false
	if len(p.queue) == p.depth {
		oldest := p.queue[0]
		p.queue = append(p.queue[:0], p.queue[1:]...)
		// The next frame in line snapshots everything the dropped one did,
		// unless a commit changed the geometry in between.
		successor := frame
		if len(p.queue) > 0 {
			successor = p.queue[0]
		}
		if sameGeometry(successor, oldest) {
			successor.Damage = successor.Damage.Merge(oldest.Damage)
		}
		oldest.Release()
		dropped = true
	}
	p.queue = append(p.queue, frame)
	p.mu.Unlock()

	if dropped {
		atomic.AddInt64(&p.dropped, 1)
		p.log.Debug("frame dropped", zap.Uint64("replaced_by", frame.Sequence))
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return dropped
}

func sameGeometry(a, b *DamagedFrame) bool {
	return a.Width == b.Width && a.Height == b.Height && a.Format == b.Format && a.Pitch == b.Pitch
}

// Discard releases the queued frames without stopping the presenter. It
// returns how many were discarded.
func (p *Presenter) Discard() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	for _, f := range p.queue {
		f.Release()
	}
	p.queue = p.queue[:0]
	return n
}

func (p *Presenter) next() *DamagedFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	f := p.queue[0]
	p.queue = append(p.queue[:0], p.queue[1:]...)
	return f
}

func (p *Presenter) loop(ctx context.Context) {
	defer p.wg.Done()
	defer atomic.StoreInt64(&p.running, 0)

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-p.stopChan:
			p.shutdown()
			return
		case <-p.wake:
		}

		for f := p.next(); f != nil; f = p.next() {
			if err := p.present(ctx, f); err != nil {
				p.shutdown()
				p.failed <- err
				return
			}
		}
	}
}

func (p *Presenter) present(ctx context.Context, f *DamagedFrame) error {
	defer f.Release()

	start := time.Now()
	err := p.sink.Present(ctx, f)
	latency := time.Since(start)
	atomic.StoreInt64(&p.lastLatency, latency.Nanoseconds())

	if err != nil {
		atomic.AddInt64(&p.failures, 1)
		p.log.Error("sink failed", zap.Uint64("sequence", f.Sequence), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	atomic.AddInt64(&p.presented, 1)
	p.log.Debug("frame presented",
		zap.Uint64("sequence", f.Sequence),
		zap.Int("rects", len(f.Damage)),
		zap.Duration("latency", latency))
	return nil
}

// shutdown refuses further frames and releases the queued ones.
func (p *Presenter) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, f := range p.queue {
		f.Release()
	}
	p.queue = p.queue[:0]
}

// Failed delivers the sink failure, at most once.
func (p *Presenter) Failed() <-chan error {
	return p.failed
}

// Stop stops the presenter and waits for the goroutine to exit. Queued frames
// are released without being presented.
func (p *Presenter) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopChan)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.shutdown()
}

// Pending returns the number of queued frames.
func (p *Presenter) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// GetMetrics returns current presentation metrics
func (p *Presenter) GetMetrics() PresenterMetrics {
	return PresenterMetrics{
		Presented:   atomic.LoadInt64(&p.presented),
		Dropped:     atomic.LoadInt64(&p.dropped),
		Failures:    atomic.LoadInt64(&p.failures),
		LastLatency: time.Duration(atomic.LoadInt64(&p.lastLatency)),
	}
}
