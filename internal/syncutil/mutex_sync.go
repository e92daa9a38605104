//go:build !deadlock

// Package syncutil provides the session and presenter locks. They are plain
// sync primitives unless the module is built with -tags=deadlock.
package syncutil

import (
	"sync"
	"time"
)

// Detecting reports whether lock-order and timeout detection is compiled in.
const Detecting = false

// Mutex is a sync.Mutex.
//
//nolint:gocritic // embedded to expose Lock and Unlock
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex.
//
//nolint:gocritic // embedded to expose the lock methods
type RWMutex struct {
	sync.RWMutex
}

// SetLockTimeout is a no-op without the deadlock build tag.
func SetLockTimeout(time.Duration) {}
