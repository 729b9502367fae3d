// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs table-driven tests of [cli.App] implementations.
package clitest

import (
	"bytes"
	"cmp"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"go.astrophena.name/newsdigest/internal/cli"
)

// Case is a single invocation of an application and its expected result.
type Case[App cli.App] struct {
	// Args are the command-line arguments.
	Args []string
	// Stdin is the standard input. Defaults to an empty reader.
	Stdin io.Reader
	// Env holds the environment variables visible to the application.
	Env map[string]string

	// WantErr is checked with errors.Is.
	WantErr error
	// WantErrType is checked with errors.As against a value of its type.
	WantErrType error
	// WantNothingPrinted requires empty stdout and stderr.
	WantNothingPrinted bool
	// WantInStdout and WantInStderr are substrings of the expected output.
	WantInStdout string
	WantInStderr string
	// CheckFunc makes additional checks of the application after it ran.
	CheckFunc func(*testing.T, App)
}

// Run runs every case in parallel against a fresh application returned by
// setup.
func Run[App cli.App](t *testing.T, setup func(*testing.T) App, cases map[string]Case[App]) {
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			tc.run(t, setup(t))
		})
	}
}

func (tc *Case[App]) run(t *testing.T, app App) {
	var stdout, stderr bytes.Buffer
	env := &cli.Env{
		Args:   tc.Args,
		Getenv: func(name string) string { return tc.Env[name] },
		Stdin:  cmp.Or(tc.Stdin, io.Reader(strings.NewReader(""))),
		Stdout: &stdout,
		Stderr: &stderr,
	}

	err := cli.Run(cli.WithEnv(t.Context(), env), app)
	tc.checkErr(t, err)

	if tc.WantNothingPrinted {
		if stdout.Len() > 0 {
			t.Errorf("stdout must be empty, got: %q", stdout.String())
		}
		if stderr.Len() > 0 {
			t.Errorf("stderr must be empty, got: %q", stderr.String())
		}
	}
	if !strings.Contains(stdout.String(), tc.WantInStdout) {
		t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, stdout.String())
	}
	if !strings.Contains(stderr.String(), tc.WantInStderr) {
		t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, stderr.String())
	}

	if tc.CheckFunc != nil {
		tc.CheckFunc(t, app)
	}
}

func (tc *Case[App]) checkErr(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		switch {
		case tc.WantErr != nil:
			t.Fatalf("must fail with error: %v", tc.WantErr)
		case tc.WantErrType != nil:
			t.Fatalf("must fail with error type %T", tc.WantErrType)
		}
		return
	}

	if tc.WantErr != nil && !errors.Is(err, tc.WantErr) {
		t.Fatalf("want error %v, got: %v", tc.WantErr, err)
	}
	if tc.WantErrType != nil {
		target := reflect.New(reflect.TypeOf(tc.WantErrType))
		if !errors.As(err, target.Interface()) {
			t.Fatalf("want error type %T, got %T: %v", tc.WantErrType, err, err)
		}
	}
}
