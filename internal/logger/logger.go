// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger defines the structured logger carried in a context, a
// printf-like logging function type and a thread-safe line buffer that allows
// log lines to be streamed through an HTTP endpoint.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Logger is a structured logger with an adjustable level.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
}

// New returns a Logger that writes text records to w at info level.
func New(w io.Writer) *Logger {
	level := new(slog.LevelVar)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
		Level:  level,
	}
}

type ctxKey struct{}

// Put returns a copy of ctx that carries l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Get returns the Logger carried by ctx. If there is none, it returns a logger
// writing to standard error.
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return New(os.Stderr)
}
