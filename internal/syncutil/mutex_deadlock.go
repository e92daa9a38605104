//go:build deadlock

// Package syncutil provides the session and presenter locks. Building with
// -tags=deadlock swaps them for github.com/sasha-s/go-deadlock so a lock held
// across a transport or sink call shows up as a report instead of a hang.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Detecting reports whether lock-order and timeout detection is compiled in.
const Detecting = true

// Mutex is a deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}

// SetLockTimeout sets how long a goroutine may wait for a lock before a
// potential deadlock is reported. Zero disables the timeout check.
func SetLockTimeout(d time.Duration) {
	deadlock.Opts.DeadlockTimeout = d
}
