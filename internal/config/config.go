// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package config loads newsdigest configuration from a Starlark file.
//
// A configuration file declares the tracked streams and may override the
// prompts and oracle settings:
//
//	streams = [
//	    stream("pharma", feed = "https://example.com/rss"),
//	    stream("biotech", feed = "https://example.org/feed", url_prefix = "https://example.org"),
//	]
//
//	model = "gemini-2.0-flash"
//	temperature = 0.5
//	search = True
//	retry_limit = 3
//	retry_delay = "60s"
//	rate_limit = 10
//
// Secrets are never part of the file. They come from the environment, see
// [Require].
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ErrMissing is returned when a required setting or secret is not provided.
var ErrMissing = errors.New("missing required configuration")

var (
	//go:embed feed_prompt.txt
	defaultFeedPrompt string
	//go:embed email_prompt.txt
	defaultEmailPrompt string
	//go:embed error.tmpl
	defaultErrorTemplate string
)

// Default values of optional settings.
const (
	DefaultModel       = "gemini-2.0-flash"
	DefaultTemperature = 0.5
	DefaultRetryLimit  = 3
	DefaultRetryDelay  = 60 * time.Second
	DefaultMailbox     = "INBOX"
	DefaultMaxEmails   = 10
	DefaultKeyColumn   = 3
)

// Config is the parsed configuration.
type Config struct {
	Streams []Stream `json:"streams"`

	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Search      bool          `json:"search"`
	RetryLimit  int           `json:"retry_limit"`
	RetryDelay  time.Duration `json:"retry_delay"`
	// RateLimit is the maximum number of oracle requests per minute. Zero means
	// unlimited.
	RateLimit float64 `json:"rate_limit"`

	FeedPrompt    string `json:"-"`
	EmailPrompt   string `json:"-"`
	ErrorTemplate string `json:"-"`

	Mailbox   string `json:"mailbox"`
	MaxEmails int    `json:"max_emails"`
}

// Stream is a tracked feed stream.
type Stream struct {
	Name string `json:"name"`
	// Feed is the URL of the feed that fills the stream's candidate row.
	Feed string `json:"feed,omitempty"`
	// URLPrefix is prepended to candidate URLs that have no scheme.
	URLPrefix string `json:"url_prefix,omitempty"`
	// KeyColumn is the 1-based archive column compared against the candidate
	// URL to detect already processed items.
	KeyColumn int `json:"key_column"`
}

// Default returns the configuration with no streams and all defaults applied.
func Default() *Config {
	return &Config{
		Model:         DefaultModel,
		Temperature:   DefaultTemperature,
		RetryLimit:    DefaultRetryLimit,
		RetryDelay:    DefaultRetryDelay,
		FeedPrompt:    defaultFeedPrompt,
		EmailPrompt:   defaultEmailPrompt,
		ErrorTemplate: strings.TrimSpace(defaultErrorTemplate),
		Mailbox:       DefaultMailbox,
		MaxEmails:     DefaultMaxEmails,
	}
}

// Stream looks up a declared stream by name.
func (c *Config) Stream(name string) (Stream, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// Load reads and parses the configuration file at path.
func Load(path string, print func(string)) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrMissing, path)
		}
		return nil, err
	}
	return Parse(path, b, print)
}

// Parse parses the configuration source. The print function receives the
// output of print calls in the file; it may be nil.
func Parse(filename string, src []byte, print func(string)) (*Config, error) {
	thread := &starlark.Thread{
		Name: "config",
		Print: func(_ *starlark.Thread, msg string) {
			if print != nil {
				print(msg)
			}
		},
	}
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		thread,
		filename,
		src,
		starlark.StringDict{
			"stream": starlark.NewBuiltin("stream", streamBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	c := Default()

	streams, ok := globals["streams"].(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("%w: streams must be defined and be a list", ErrMissing)
	}
	seen := make(map[string]bool)
	for i := range streams.Len() {
		s, ok := streams.Index(i).(*streamValue)
		if !ok {
			return nil, fmt.Errorf("streams[%d]: want stream, got %s", i, streams.Index(i).Type())
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("streams[%d]: duplicate stream %q", i, s.Name)
		}
		seen[s.Name] = true
		c.Streams = append(c.Streams, s.Stream)
	}

	for _, o := range []struct {
		name string
		set  func(starlark.Value) error
	}{
		{"model", stringVar(&c.Model)},
		{"temperature", floatVar(&c.Temperature)},
		{"search", boolVar(&c.Search)},
		{"retry_limit", intVar(&c.RetryLimit)},
		{"retry_delay", durationVar(&c.RetryDelay)},
		{"rate_limit", floatVar(&c.RateLimit)},
		{"feed_prompt", stringVar(&c.FeedPrompt)},
		{"email_prompt", stringVar(&c.EmailPrompt)},
		{"error_template", trimmedStringVar(&c.ErrorTemplate)},
		{"mailbox", stringVar(&c.Mailbox)},
		{"max_emails", intVar(&c.MaxEmails)},
	} {
		v, ok := globals[o.name]
		if !ok {
			continue
		}
		if err := o.set(v); err != nil {
			return nil, fmt.Errorf("%s: %w", o.name, err)
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.Model == "":
		return fmt.Errorf("%w: model must not be empty", ErrMissing)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	case c.RetryLimit < 1:
		return fmt.Errorf("retry_limit must be at least 1, got %d", c.RetryLimit)
	case c.RetryDelay <= 0:
		return fmt.Errorf("retry_delay must be positive, got %v", c.RetryDelay)
	case c.RateLimit < 0:
		return fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit)
	case c.MaxEmails < 1:
		return fmt.Errorf("max_emails must be at least 1, got %d", c.MaxEmails)
	}
	return nil
}

// Require returns the value of the environment variable name, or an error
// wrapping [ErrMissing] if it is empty.
func Require(getenv func(string) string, name string) (string, error) {
	v := getenv(name)
	if v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrMissing, name)
	}
	return v, nil
}

type streamValue struct{ Stream }

func (s *streamValue) String() string        { return fmt.Sprintf("<stream name=%q>", s.Name) }
func (s *streamValue) Type() string          { return "stream" }
func (s *streamValue) Freeze()               {} // immutable
func (s *streamValue) Truth() starlark.Bool  { return starlark.True }
func (s *streamValue) Hash() (uint32, error) { return starlark.String(s.Name).Hash() }

func streamBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	s := &streamValue{Stream: Stream{KeyColumn: DefaultKeyColumn}}
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &s.Name,
		"feed?", &s.Feed,
		"url_prefix?", &s.URLPrefix,
		"key_column?", &s.KeyColumn,
	); err != nil {
		return nil, err
	}
	if s.Name == "" {
		return nil, fmt.Errorf("%s: name must not be empty", b.Name())
	}
	if s.KeyColumn < 1 || s.KeyColumn > 4 {
		return nil, fmt.Errorf("%s: key_column of %q must be between 1 and 4, got %d", b.Name(), s.Name, s.KeyColumn)
	}
	if s.Feed != "" {
		u, err := url.Parse(s.Feed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("%s: invalid feed URL %q of %q", b.Name(), s.Feed, s.Name)
		}
	}
	if s.URLPrefix != "" {
		if _, err := url.Parse(s.URLPrefix); err != nil {
			return nil, fmt.Errorf("%s: invalid url_prefix %q of %q", b.Name(), s.URLPrefix, s.Name)
		}
	}
	return s, nil
}

func stringVar(p *string) func(starlark.Value) error {
	return func(v starlark.Value) error {
		s, ok := starlark.AsString(v)
		if !ok {
			return fmt.Errorf("want string, got %s", v.Type())
		}
		*p = s
		return nil
	}
}

// trimmedStringVar is stringVar that drops surrounding whitespace, so that
// multi-line string literals don't end alerts with a newline.
func trimmedStringVar(p *string) func(starlark.Value) error {
	set := stringVar(p)
	return func(v starlark.Value) error {
		if err := set(v); err != nil {
			return err
		}
		*p = strings.TrimSpace(*p)
		return nil
	}
}

func boolVar(p *bool) func(starlark.Value) error {
	return func(v starlark.Value) error {
		b, ok := v.(starlark.Bool)
		if !ok {
			return fmt.Errorf("want bool, got %s", v.Type())
		}
		*p = bool(b)
		return nil
	}
}

func intVar(p *int) func(starlark.Value) error {
	return func(v starlark.Value) error {
		return starlark.AsInt(v, p)
	}
}

func floatVar(p *float64) func(starlark.Value) error {
	return func(v starlark.Value) error {
		f, ok := starlark.AsFloat(v)
		if !ok {
			return fmt.Errorf("want number, got %s", v.Type())
		}
		*p = f
		return nil
	}
}

// durationVar accepts a duration string like "90s" or a number of seconds.
func durationVar(p *time.Duration) func(starlark.Value) error {
	return func(v starlark.Value) error {
		if s, ok := starlark.AsString(v); ok {
			d, err := time.ParseDuration(s)
			if err != nil {
				return err
			}
			*p = d
			return nil
		}
		f, ok := starlark.AsFloat(v)
		if !ok {
			return fmt.Errorf("want duration string or seconds, got %s", v.Type())
		}
		*p = time.Duration(f * float64(time.Second))
		return nil
	}
}
