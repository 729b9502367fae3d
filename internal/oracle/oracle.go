// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package oracle classifies and summarizes articles with a language model.
//
// A model answers a prompt either with a summary or with the rejection
// sentinel "Z", meaning the article is not relevant. The [Oracle] retries
// transport failures and malformed answers with a fixed delay and reports the
// result as an [Outcome].
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.astrophena.name/newsdigest/internal/logger"

	"golang.org/x/time/rate"
)

// Sentinel is the answer prefix that marks an article as not relevant.
const Sentinel = "Z"

// Errors wrapped by failed outcomes.
var (
	ErrTransport = errors.New("oracle transport failed")
	ErrMalformed = errors.New("oracle response malformed")
)

// Model generates a completion for a prompt. Implementations should wrap
// their errors with [ErrTransport] or [ErrMalformed].
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Kind is the kind of an [Outcome].
type Kind int

// Outcome kinds.
const (
	Failed Kind = iota
	Accepted
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Outcome is the result of summarizing a prompt.
type Outcome struct {
	Kind Kind
	// Text is the summary of an accepted outcome.
	Text string
	// Err is the last error of a failed outcome.
	Err error
}

// Options configure an [Oracle].
type Options struct {
	// RetryLimit is the maximum number of attempts. Defaults to 3.
	RetryLimit int
	// RetryDelay is the wait between attempts. Defaults to 60 seconds.
	// A negative value disables the wait.
	RetryDelay time.Duration
	// RateLimit is the maximum number of attempts per minute. Zero means
	// unlimited.
	RateLimit float64
}

// Oracle wraps a [Model] with retries, rate limiting and sentinel
// classification.
type Oracle struct {
	model      Model
	retryLimit int
	retryDelay time.Duration
	limiter    *rate.Limiter

	// sleep waits for d or until ctx is done, reporting whether the full
	// duration passed.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New returns an Oracle using m.
func New(m Model, opts Options) *Oracle {
	o := &Oracle{
		model:      m,
		retryLimit: opts.RetryLimit,
		retryDelay: opts.RetryDelay,
		sleep:      sleep,
	}
	if o.retryLimit <= 0 {
		o.retryLimit = 3
	}
	if o.retryDelay == 0 {
		o.retryDelay = 60 * time.Second
	}
	if opts.RateLimit > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit/60), 1)
	}
	return o
}

// Summarize asks the model about prompt. Attempts are strictly sequential.
func (o *Oracle) Summarize(ctx context.Context, prompt string) Outcome {
	log := logger.Get(ctx)

	var lastErr error
	for attempt := 1; attempt <= o.retryLimit; attempt++ {
		if attempt > 1 && o.retryDelay > 0 && !o.sleep(ctx, o.retryDelay) {
			return Outcome{Kind: Failed, Err: ctx.Err()}
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return Outcome{Kind: Failed, Err: ctx.Err()}
				}
				return Outcome{Kind: Failed, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
			}
		}

		text, err := o.attempt(ctx, prompt)
		if err == nil {
			if strings.HasPrefix(text, Sentinel) {
				return Outcome{Kind: Rejected}
			}
			return Outcome{Kind: Accepted, Text: text}
		}
		if ctx.Err() != nil {
			return Outcome{Kind: Failed, Err: ctx.Err()}
		}

		lastErr = err
		log.Warn("oracle attempt failed", "attempt", attempt, "of", o.retryLimit, "error", err)
	}
	return Outcome{Kind: Failed, Err: lastErr}
}

func (o *Oracle) attempt(ctx context.Context, prompt string) (string, error) {
	text, err := o.model.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty text", ErrMalformed)
	}
	return text, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
