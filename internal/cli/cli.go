// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package cli provides utilities for building command-line applications.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.astrophena.name/newsdigest/internal/cli/envflag"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/util/syncx"
	"go.astrophena.name/newsdigest/internal/version"
)

// Main runs app in the operating system environment until it returns or an
// interrupt or termination signal arrives. Errors are printed to stderr and the
// process exits with [ExitCode].
func Main(app App) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Run(WithEnv(ctx, OSEnv()), app)
	cancel()

	if err != nil && isPrintableError(err) {
		fmt.Fprintln(os.Stderr, err)
	}
	if code := ExitCode(err); code != 0 {
		os.Exit(code)
	}
}

// ExitCode maps an error returned by [Run] to a process exit code, following
// the flag package: 0 for success, -help and -version, 2 for usage errors and
// 1 for everything else.
func ExitCode(err error) int {
	var ue *unprintableError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp), errors.Is(err, ErrExitVersion):
		return 0
	case errors.Is(err, ErrInvalidArgs), errors.As(err, &ue):
		// Unprintable errors other than the above come from flag parsing.
		return 2
	default:
		return 1
	}
}

type unprintableError struct{ err error }

func (e *unprintableError) Error() string { return e.err.Error() }
func (e *unprintableError) Unwrap() error { return e.err }

func isPrintableError(err error) bool {
	if errors.Is(err, flag.ErrHelp) {
		return false
	}
	var ue *unprintableError
	return !errors.As(err, &ue)
}

// ErrExitVersion is an error indicating the application should exit after
// showing version.
var ErrExitVersion = &unprintableError{errors.New("version flag exit")}

// ErrInvalidArgs indicates that the command-line arguments provided to the
// application are invalid or insufficient.
//
// This error should be wrapped with fmt.Errorf to provide a specific,
// user-friendly message explaining the nature of the invalid arguments.
//
// For example:
//
//	return fmt.Errorf("%w: missing required argument 'filename'", cli.ErrInvalidArgs)
var ErrInvalidArgs = errors.New("invalid arguments")

// App represents a command-line application.
type App interface {
	// Run runs the application. The environment is available through
	// [GetEnv].
	Run(context.Context) error
}

// HasFlags represents a command-line application that has flags.
type HasFlags interface {
	App

	// Flags adds flags to the flag set.
	Flags(*flag.FlagSet)
}

// AppFunc is a function type that implements the [App] interface.
// It has no defined flags.
type AppFunc func(context.Context) error

// Run calls f(ctx).
func (f AppFunc) Run(ctx context.Context) error { return f(ctx) }

// Env represents the application environment.
type Env struct {
	Args   []string
	Getenv func(string) string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	logf syncx.Lazy[logger.Logf]
}

// Logf writes the formatted message to standard error of this environment.
func (e *Env) Logf(format string, args ...any) {
	e.logf.Get(func() logger.Logf {
		return log.New(e.Stderr, "", 0).Printf
	})(format, args...)
}

// OSEnv returns the current operating system environment.
func OSEnv() *Env {
	return &Env{
		Args:   os.Args[1:],
		Getenv: os.Getenv,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

type envKey struct{}

// WithEnv returns a copy of ctx that carries env.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// GetEnv returns the environment carried by ctx, falling back to [OSEnv].
func GetEnv(ctx context.Context) *Env {
	if env, ok := ctx.Value(envKey{}).(*Env); ok {
		return env
	}
	return OSEnv()
}

// Run handles the command-line application startup. The environment is taken
// from ctx; see [WithEnv].
func Run(ctx context.Context, app App) error {
	env := GetEnv(ctx)
	name := version.CmdName()

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	if fa, ok := app.(HasFlags); ok {
		fa.Flags(flags)
	}

	var showVersion bool
	if flags.Lookup("version") == nil {
		flags.BoolVar(&showVersion, "version", false, "Show version.")
	}

	flags.Usage = usage(flags, env.Stderr)
	flags.SetOutput(env.Stderr)
	if err := flags.Parse(env.Args); err != nil {
		// Already printed to stderr by flag package, so mark as an unprintable error.
		return &unprintableError{err}
	}
	if err := envflag.Apply(flags, env.Getenv); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	if showVersion {
		fmt.Fprint(env.Stderr, version.Version())
		return ErrExitVersion
	}
	env.Args = flags.Args()

	ctx = WithEnv(ctx, env)
	ctx = logger.Put(ctx, logger.New(env.Stderr))

	return app.Run(ctx)
}

func usage(flags *flag.FlagSet, stderr io.Writer) func() {
	return func() {
		if docSrc != nil {
			fmt.Fprintf(stderr, "%s\n", doc.Get(parseDocComment))
		}
		fmt.Fprint(stderr, "Available flags:\n\n")
		flags.PrintDefaults()
	}
}

var (
	docSrc []byte
	doc    syncx.Lazy[string]
)

// SetDocComment sets the source of a doc.go file whose /* ... */ package
// comment is printed by -help above the flag defaults.
func SetDocComment(src []byte) { docSrc = src }

func parseDocComment() string {
	src := strings.ReplaceAll(string(docSrc), "\r\n", "\n")
	_, rest, ok := strings.Cut(src, "/*\n")
	if !ok {
		return ""
	}
	comment, _, _ := strings.Cut(rest, "\n*/")
	return comment + "\n"
}
