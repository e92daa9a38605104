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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	config := DefaultConfig()

	require.NotNil(t, config)
	assert.Equal(t, 2*time.Second, config.TransferTimeout)
	assert.Equal(t, DefaultQueueDepth, config.QueueDepth)
	assert.Equal(t, 16*1024, config.BulkChunkSize)
	assert.Nil(t, config.Logger)
	assert.NotEmpty(t, config.Capabilities.Formats)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check   func(t *testing.T, c *Config)
		opt     Option
		name    string
		wantErr bool
	}{
		{
			name: "transfer timeout",
			opt:  WithTransferTimeout(500 * time.Millisecond),
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, 500*time.Millisecond, c.TransferTimeout)
			},
		},
		{name: "zero transfer timeout", opt: WithTransferTimeout(0), wantErr: true},
		{
			name: "queue depth",
			opt:  WithQueueDepth(1),
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, 1, c.QueueDepth)
			},
		},
		{name: "queue depth too large", opt: WithQueueDepth(MaxQueueDepth + 1), wantErr: true},
		{name: "queue depth zero", opt: WithQueueDepth(0), wantErr: true},
		{
			name: "bulk chunk size",
			opt:  WithBulkChunkSize(4096),
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, 4096, c.BulkChunkSize)
			},
		},
		{name: "bulk chunk size too large", opt: WithBulkChunkSize(MaxBulkChunkSize + 1), wantErr: true},
		{name: "nil logger", opt: WithLogger(nil), wantErr: true},
		{
			name: "logger",
			opt:  WithLogger(zap.NewNop()),
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.NotNil(t, c.Logger)
			},
		},
		{
			name: "capabilities",
			opt:  WithCapabilities(Capabilities{Formats: []PixelFormat{FormatR1}}),
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, []PixelFormat{FormatR1}, c.Capabilities.Formats)
			},
		},
		{name: "nil config", opt: WithConfig(nil), wantErr: true},
		{
			name: "whole config",
			opt:  WithConfig(&Config{QueueDepth: 1, BulkChunkSize: 64}),
			check: func(t *testing.T, c *Config) {
				t.Helper()
				assert.Equal(t, 1, c.QueueDepth)
				assert.Equal(t, 64, c.BulkChunkSize)
				assert.Zero(t, c.TransferTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := DefaultConfig()
			err := tt.opt(config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}
