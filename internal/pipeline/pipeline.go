// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package pipeline implements the feed and email summarization passes.
//
// A pass reads items from a [store.Store], asks a [Summarizer] whether each
// item is relevant and posts accepted summaries to a [notify.Sink]. Feed items
// are archived before the oracle is called, so that an item is never
// processed twice even if the process dies mid-pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/oracle"
	"go.astrophena.name/newsdigest/internal/store"
)

// Summarizer classifies and summarizes a prompt. It is implemented by
// [oracle.Oracle].
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) oracle.Outcome
}

// Options configure a [Pipeline].
type Options struct {
	Store  store.Store
	Oracle Summarizer
	Sink   notify.Sink
	Config *config.Config
	// Metrics are updated while running. If nil, unregistered collectors are
	// used.
	Metrics *Metrics
	// Location is the time zone dates are rendered in. Defaults to
	// time.Local.
	Location *time.Location
}

// Pipeline runs summarization passes. It keeps no state between runs.
type Pipeline struct {
	store   store.Store
	oracle  Summarizer
	sink    notify.Sink
	cfg     *config.Config
	metrics *Metrics
	loc     *time.Location
}

// New returns a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		store:   opts.Store,
		oracle:  opts.Oracle,
		sink:    opts.Sink,
		cfg:     opts.Config,
		metrics: opts.Metrics,
		loc:     opts.Location,
	}
	if p.cfg == nil {
		p.cfg = config.Default()
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	return p
}

// Run runs the feed phase and then the email phase. An error escaping a phase
// is reported through the sink and does not prevent the other phase from
// running. The phase errors are returned joined.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logger.Get(ctx)

	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"feeds", p.RunFeeds},
		{"emails", p.RunEmails},
	}

	var errs []error
	for _, ph := range phases {
		err := ph.run(ctx)
		if err == nil {
			continue
		}
		err = fmt.Errorf("%s phase: %w", ph.name, err)
		log.Error("phase failed", "phase", ph.name, "error", err)
		p.metrics.phaseErrors.WithLabelValues(ph.name).Inc()
		if ctx.Err() == nil {
			p.send(ctx, notify.Alert(p.cfg.ErrorTemplate, err))
		}
		errs = append(errs, err)
	}

	p.metrics.lastRun.SetToCurrentTime()
	return errors.Join(errs...)
}

// summarize asks the oracle about prompt and acts on the outcome. Accepted
// summaries are sent as the body of m. A failure is reported with a single
// error notification unless ctx is done.
func (p *Pipeline) summarize(ctx context.Context, source, prompt string, m notify.Message) oracle.Kind {
	log := logger.Get(ctx)

	out := p.oracle.Summarize(ctx, prompt)
	p.metrics.items.WithLabelValues(source, out.Kind.String()).Inc()

	switch out.Kind {
	case oracle.Accepted:
		m.Body = out.Text
		p.send(ctx, m)
	case oracle.Rejected:
		log.Info("not relevant", "source", source, "prefix", m.Prefix)
	default:
		log.Error("summarizing failed", "source", source, "prefix", m.Prefix, "error", out.Err)
		if ctx.Err() != nil {
			break
		}
		p.send(ctx, notify.Alert(p.cfg.ErrorTemplate, out.Err))
	}
	return out.Kind
}

// send delivers m. Failures are only logged.
func (p *Pipeline) send(ctx context.Context, m notify.Message) {
	kind := "summary"
	if m.Alert {
		kind = "alert"
	}
	if err := p.sink.Send(ctx, m); err != nil {
		logger.Get(ctx).Error("sending notification failed", "kind", kind, "error", err)
		p.metrics.notifications.WithLabelValues(kind, "failed").Inc()
		return
	}
	p.metrics.notifications.WithLabelValues(kind, "sent").Inc()
}

func prefix(source, date string) string {
	if date == "" {
		return "*" + source + ",*"
	}
	return "*" + source + ",* " + date
}
