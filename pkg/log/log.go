// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the package-level logger used throughout core and
// pkg, mirroring the teacher's package-scoped Debugf/Infof/Warnf/Errorf
// call style. It wraps zerolog for structured output, ecszerolog for
// the field layout, and lumberjack for rotation when writing to a
// file.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = ecszerolog.New(os.Stderr).Level(zerolog.InfoLevel)
)

// Options configures Configure.
type Options struct {
	// Level is the minimum level that is emitted. Defaults to info.
	// zerolog.DebugLevel is zerolog's zero value, so it is treated as
	// unset and also yields info: debug output cannot be selected here.
	Level zerolog.Level

	// FilePath, if non-empty, routes output through a lumberjack
	// rotating writer instead of os.Stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Configure replaces the package logger. Call it once at process
// startup; it is safe to call from init() or from pkg/config after
// loading a Config.
func Configure(opts Options) {
	var w io.Writer = os.Stderr
	if opts.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
	}

	lvl := opts.Level
	if lvl == 0 {
		lvl = zerolog.InfoLevel
	}

	mu.Lock()
	logger = ecszerolog.New(w).Level(lvl)
	mu.Unlock()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debugf logs at debug level with printf-style formatting, matching
// the call sites inherited from the teacher (core/conn, core/manage).
func Debugf(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// Infof logs at info level.
func Infof(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

// Warnf logs at warn level.
func Warnf(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

// Errorf logs at error level.
func Errorf(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}
