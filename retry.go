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
	"math/rand/v2"
	"time"
)

// Open retry constants control how transports and sinks are opened at
// startup, when the UDC or the display device node may not be ready yet.
const (
	// DefaultOpenAttempts is the number of attempts to open a device.
	DefaultOpenAttempts = 5
	// OpenInitialBackoff is the initial delay between open attempts.
	OpenInitialBackoff = 100 * time.Millisecond
	// OpenMaxBackoff is the maximum delay between open attempts.
	OpenMaxBackoff = 2 * time.Second
	// OpenBackoffMultiplier is the exponential backoff multiplier.
	OpenBackoffMultiplier = 2.0
	// OpenJitter is the random jitter factor (0.0-1.0).
	OpenJitter = 0.1
	// OpenRetryTimeout is the overall timeout for all open attempts.
	OpenRetryTimeout = 30 * time.Second
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// OnRetry, if set, is called before sleeping after a failed attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
	// MaxAttempts is the maximum number of attempts (0 = no retry)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds randomness to backoff to avoid thundering herd
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry configuration used to open devices
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultOpenAttempts,
		InitialBackoff:    OpenInitialBackoff,
		MaxBackoff:        OpenMaxBackoff,
		BackoffMultiplier: OpenBackoffMultiplier,
		Jitter:            OpenJitter,
		RetryTimeout:      OpenRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig executes a function with retry logic. Only errors for which
// IsRetryable reports true are retried.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	if config.MaxAttempts <= 0 {
		return retryFunc()
	}

	retryCtx, cancel := setupRetryContext(ctx, config)
	defer cancel()
	return executeWithRetry(retryCtx, config, retryFunc)
}

// RetryValue is RetryWithConfig for functions that produce a value, such as
// transport and sink constructors.
func RetryValue[T any](ctx context.Context, config *RetryConfig, open func() (T, error)) (T, error) {
	var result T
	err := RetryWithConfig(ctx, config, func() error {
		v, err := open()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func setupRetryContext(ctx context.Context, config *RetryConfig) (context.Context, context.CancelFunc) {
	if config.RetryTimeout > 0 {
		return context.WithTimeout(ctx, config.RetryTimeout)
	}
	return context.WithCancel(ctx)
}

func executeWithRetry(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := range config.MaxAttempts {
		if ctx.Err() != nil {
			if lastErr != nil {
				Debugln("retry stopped after", attempt, "attempts:", ctx.Err())
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}

		err := retryFunc()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxAttempts-1 {
			break
		}
		sleep := jittered(backoff, config.Jitter)
		Debugf("attempt %d failed (retrying after %v): %v", attempt+1, sleep, err)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, sleep)
		}
		if !sleepWithContext(ctx, sleep) {
			Debugln("retry stopped after", attempt+1, "attempts:", ctx.Err())
			return lastErr
		}
		backoff = min(time.Duration(float64(backoff)*config.BackoffMultiplier), config.MaxBackoff)
	}

	Debugf("retries exhausted after %d attempts: %v", config.MaxAttempts, lastErr)
	return lastErr
}

// sleepWithContext sleeps for d and reports false if ctx ended first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// jittered stretches base by a random fraction of up to factor.
func jittered(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	//nolint:gosec // jitter does not need a cryptographic source
	return base + time.Duration(rand.Float64()*factor*float64(base))
}
