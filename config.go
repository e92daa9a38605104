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
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Session defaults
const (
	// DefaultTransferTimeout is how long a pending transfer may go without
	// bulk data before it is aborted.
	DefaultTransferTimeout = 2 * time.Second
	// DefaultBulkChunkSize is the read size used on the bulk endpoint.
	DefaultBulkChunkSize = 16 * 1024
	// MaxBulkChunkSize bounds the bulk read buffer.
	MaxBulkChunkSize = 1 << 20
)

// Config contains configuration options for a Session
type Config struct {
	// Logger receives session logs. Defaults to Logger().
	Logger *zap.Logger
	// Capabilities advertised to the host.
	Capabilities Capabilities
	// TransferTimeout aborts idle pending transfers.
	TransferTimeout time.Duration
	// QueueDepth is the presenter queue capacity (1 or 2).
	QueueDepth int
	// BulkChunkSize is the size of each bulk endpoint read.
	BulkChunkSize int
}

// DefaultConfig returns default session configuration
func DefaultConfig() *Config {
	return &Config{
		Capabilities:    DefaultCapabilities(),
		TransferTimeout: DefaultTransferTimeout,
		QueueDepth:      DefaultQueueDepth,
		BulkChunkSize:   DefaultBulkChunkSize,
	}
}

// Option configures a Session
type Option func(*Config) error

// WithCapabilities sets the capabilities advertised to the host
func WithCapabilities(caps Capabilities) Option {
	return func(c *Config) error {
		c.Capabilities = caps
		return nil
	}
}

// WithTransferTimeout sets the idle timeout for pending transfers
func WithTransferTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("transfer timeout must be positive, got %v", timeout)
		}
		c.TransferTimeout = timeout
		return nil
	}
}

// WithQueueDepth sets the presenter queue capacity
func WithQueueDepth(depth int) Option {
	return func(c *Config) error {
		if depth < MinQueueDepth || depth > MaxQueueDepth {
			return fmt.Errorf("queue depth must be %d..%d, got %d", MinQueueDepth, MaxQueueDepth, depth)
		}
		c.QueueDepth = depth
		return nil
	}
}

// WithBulkChunkSize sets the bulk endpoint read size
func WithBulkChunkSize(size int) Option {
	return func(c *Config) error {
		if size <= 0 || size > MaxBulkChunkSize {
			return fmt.Errorf("bulk chunk size must be 1..%d, got %d", MaxBulkChunkSize, size)
		}
		c.BulkChunkSize = size
		return nil
	}
}

// WithLogger sets the session logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithConfig copies every field of cfg
func WithConfig(cfg *Config) Option {
	return func(c *Config) error {
		if cfg == nil {
			return errors.New("config must not be nil")
		}
		*c = *cfg
		return nil
	}
}
