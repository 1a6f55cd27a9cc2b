// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the structured, leveled logger used throughout the
// p2p host. It is a thin wrapper around log/slog so call sites read the
// same key/value shape as the rest of the go-ethereum-lineage codebase.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is a structured logger bound to a fixed set of context fields.
type Logger interface {
	New(ctx ...interface{}) Logger

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

var root atomic.Value

func init() {
	root.Store(&logger{inner: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))})
}

// Root returns the root logger of the process.
func Root() Logger { return root.Load().(*logger) }

// SetOutput replaces the root logger's handler, used by tests to capture
// or silence output.
func SetOutput(h slog.Handler) { root.Store(&logger{inner: slog.New(h)}) }

type logger struct {
	inner *slog.Logger
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.inner.Debug(msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.inner.Error(msg, ctx...) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.inner.Log(context.Background(), slog.LevelError+4, msg, ctx...)
}

// Package-level convenience functions mirroring the root logger, the shape
// the rest of the p2p package calls into (log.Debug(...), log.Warn(...)).
func New(ctx ...interface{}) Logger             { return Root().New(ctx...) }
func Trace(msg string, ctx ...interface{})      { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{})      { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})       { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})       { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{})      { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})       { Root().Crit(msg, ctx...) }
func Fmt(format string, a ...interface{}) string { return fmt.Sprintf(format, a...) }
