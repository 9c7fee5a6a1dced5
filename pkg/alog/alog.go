// Copyright 2018-2019 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package alog provides the structured logging used across the asset
// lifecycle subsystem. It mirrors the package-registry pattern of the
// storage backend this module was split out from: callers register a
// named logger once at init time and look it up by package name
// whenever they need to emit an event, instead of threading a logger
// value through every constructor.
package alog

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.CallerSkipFrameCount = 3
}

// Out is the log output writer. Tests may redirect it.
var Out io.Writer = os.Stderr

// Mode selects the output encoding: "dev" prints a human-readable
// console format, anything else (typically "prod") prints JSON.
var Mode = "dev"

var registered []string
var loggers = map[string]*zerolog.Logger{}

// Logger is a named, lazily-resolved handle into the logger registry.
type Logger struct {
	pkg string
}

// New registers and returns a Logger for the given package name. Safe
// to call at package init time before Mode is configured; the
// underlying zerolog.Logger is created lazily on first use.
func New(pkg string) *Logger {
	registered = append(registered, pkg)
	return &Logger{pkg: pkg}
}

// ListRegistered returns the name of every package that has called New.
func ListRegistered() []string {
	out := make([]string, len(registered))
	copy(out, registered)
	return out
}

func resolve(pkg string) *zerolog.Logger {
	if zl, ok := loggers[pkg]; ok {
		return zl
	}
	pid := os.Getpid()
	zl := zerolog.New(Out).With().Str("pkg", pkg).Int("pid", pid).Timestamp().Caller().Logger()
	if Mode == "" || Mode == "dev" {
		zl = zl.Output(zerolog.ConsoleWriter{Out: Out})
	}
	loggers[pkg] = &zl
	return &zl
}

// ctxKey is the context key under which a request-scoped logger is
// stashed by ToContext.
type ctxKey struct{}

// ToContext returns a context carrying the given event fields merged
// into l's logger, for handlers further down the call chain to pick
// up via FromContext.
func ToContext(ctx context.Context, l *Logger, fields map[string]string) context.Context {
	zl := resolve(l.pkg).With().Fields(toInterfaceMap(fields)).Logger()
	return context.WithValue(ctx, ctxKey{}, &zl)
}

// FromContext returns the logger stashed by ToContext, or a bare
// "app" logger if none was stashed.
func FromContext(ctx context.Context) *zerolog.Logger {
	if zl, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return zl
	}
	return resolve("app")
}

// Info starts an info-level event for l's package.
func (l *Logger) Info() *zerolog.Event { return resolve(l.pkg).Info() }

// Warn starts a warn-level event for l's package.
func (l *Logger) Warn() *zerolog.Event { return resolve(l.pkg).Warn() }

// Error starts an error-level event for l's package.
func (l *Logger) Error() *zerolog.Event { return resolve(l.pkg).Error() }

// Debug starts a debug-level event for l's package.
func (l *Logger) Debug() *zerolog.Event { return resolve(l.pkg).Debug() }

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
