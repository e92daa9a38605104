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
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// consoleLevel gates the default stderr logger. Debug output is enabled by
// the GUD_DEBUG or DEBUG environment variables or by SetDebugEnabled.
var consoleLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var (
	loggerMu   sync.Mutex
	baseLogger *zap.Logger // console logger, or the one installed by SetLogger
	current    atomic.Pointer[zap.Logger]
)

func init() {
	if os.Getenv("GUD_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		consoleLevel.SetLevel(zapcore.DebugLevel)
	}
	baseLogger = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig()),
		zapcore.Lock(os.Stderr),
		consoleLevel,
	))
	rebuildLogger()
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeCaller = nil
	cfg.CallerKey = ""
	return cfg
}

// rebuildLogger recomputes the shared logger from the base logger and the
// session log core. Callers hold loggerMu, except init.
func rebuildLogger() {
	l := baseLogger
	if sessionCore != nil {
		l = l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, sessionCore)
		}))
	}
	current.Store(l)
}

// Logger returns the package logger. Components derive named children from
// it when they are constructed.
func Logger() *zap.Logger {
	return current.Load()
}

// SetLogger replaces the console logger. A nil logger restores the default.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig()),
			zapcore.Lock(os.Stderr),
			consoleLevel,
		))
	}
	baseLogger = l
	rebuildLogger()
}

// Debugf logs a formatted debug message.
// Always written to the session log file (if initialized).
// Only printed to the console when debug mode is enabled.
func Debugf(format string, args ...any) {
	Logger().Debug(fmt.Sprintf(format, args...))
}

// Debugln logs its operands, space separated, as a debug message.
func Debugln(args ...any) {
	msg := fmt.Sprintln(args...)
	Logger().Debug(msg[:len(msg)-1])
}

// SetDebugEnabled allows programmatic control of debug logging
// Useful for testing or application-controlled debug modes
func SetDebugEnabled(enabled bool) {
	if enabled {
		consoleLevel.SetLevel(zapcore.DebugLevel)
		return
	}
	consoleLevel.SetLevel(zapcore.InfoLevel)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return consoleLevel.Enabled(zapcore.DebugLevel)
}
