// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package envflag binds flags to environment variables.
//
// A flag registered with [Var] takes its value from the command line if it was
// set there, otherwise from the environment variable, otherwise from its
// default. Call [Apply] after parsing the flag set.
package envflag

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

// Type is a constraint that permits only types supported by envflag package.
type Type interface {
	int | int64 | float64 | bool | string | time.Duration
}

// Var defines a flag with the given name, default value and usage string
// that can be overridden by the environment variable envName.
func Var[T Type](fs *flag.FlagSet, p *T, name, envName string, value T, usage string) {
	*p = value
	fs.Var(&flagValue[T]{p: p, envName: envName}, name, usage+" Can be overridden by "+envName+" environment variable.")
}

// Apply sets flags defined with [Var] from the environment, skipping flags that
// were explicitly set on the command line.
func Apply(fs *flag.FlagSet, getenv func(string) string) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		ev, ok := f.Value.(envValue)
		if !ok {
			return
		}
		val := getenv(ev.env())
		if val == "" {
			return
		}
		if serr := f.Value.Set(val); serr != nil {
			err = fmt.Errorf("parsing %s: %w", ev.env(), serr)
		}
	})
	return err
}

type envValue interface{ env() string }

type flagValue[T Type] struct {
	p       *T
	envName string
}

func (f *flagValue[T]) env() string { return f.envName }

func (f *flagValue[T]) String() string {
	if f.p == nil {
		return ""
	}
	return fmt.Sprint(*f.p)
}

func (f *flagValue[T]) IsBoolFlag() bool {
	_, ok := any(*f.p).(bool)
	return ok
}

func (f *flagValue[T]) Set(s string) error {
	var v any
	var err error
	switch any(*f.p).(type) {
	case int:
		v, err = strconv.Atoi(s)
	case int64:
		v, err = strconv.ParseInt(s, 10, 64)
	case float64:
		v, err = strconv.ParseFloat(s, 64)
	case bool:
		v, err = strconv.ParseBool(s)
	case string:
		v = s
	case time.Duration:
		v, err = time.ParseDuration(s)
	}
	if err != nil {
		return err
	}
	*f.p = v.(T)
	return nil
}
