// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/store"
)

var errUndeclaredStream = errors.New("stream is not declared in the configuration")

// RunFeeds processes every candidate row in declaration order. Errors of a
// single row are logged and do not stop the pass. It returns an error only if
// the candidates could not be listed or ctx is done.
func (p *Pipeline) RunFeeds(ctx context.Context) error {
	log := logger.Get(ctx)

	candidates, err := p.store.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("listing candidates: %w", err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processCandidate(ctx, c); err != nil {
			log.Error("processing row failed", "stream", c.Stream, "error", err)
			p.metrics.items.WithLabelValues(sourceFeed, resultError).Inc()
		}
	}
	return ctx.Err()
}

func (p *Pipeline) processCandidate(ctx context.Context, c store.Candidate) error {
	log := logger.Get(ctx).With("stream", c.Stream)

	row := store.ArchiveRow{
		normalize(c.Title),
		normalize(c.Summary),
		normalize(c.URL),
		normalize(c.CreatedAt),
	}
	// A row without a URL is not eligible, even if it has a title or summary.
	url := row[store.ColumnURL-1]
	if url.IsAbsent() {
		log.Debug("skipping row without url", "title", row.Key(store.ColumnTitle))
		p.metrics.items.WithLabelValues(sourceFeed, resultSkipped).Inc()
		return nil
	}

	stream, ok := p.cfg.Stream(c.Stream)
	if !ok {
		return fmt.Errorf("%w: %q", errUndeclaredStream, c.Stream)
	}
	if s, isText := url.Value().(string); isText {
		row[store.ColumnURL-1] = store.Text(applyURLPrefix(s, stream.URLPrefix))
	}

	column := stream.KeyColumn
	if column == 0 {
		column = config.DefaultKeyColumn
	}
	last, archived, err := p.store.LastArchivedKey(ctx, c.Stream, column)
	if err != nil {
		return err
	}
	if archived && last == row.Key(column) {
		log.Debug("already processed", "key", last)
		p.metrics.items.WithLabelValues(sourceFeed, resultSkipped).Inc()
		return nil
	}

	if err := p.store.AppendArchive(ctx, c.Stream, row); err != nil {
		return err
	}

	link := row.Key(store.ColumnURL)
	date, _ := formatDate(row[store.ColumnCreatedAt-1], p.loc)
	log.Info("summarizing", "url", link)
	p.summarize(ctx, sourceFeed, feedPrompt(p.cfg.FeedPrompt, row), notify.Message{
		Prefix: prefix(c.Stream, date),
		Suffix: link,
	})
	return nil
}

// feedPrompt appends the row's URL and then its title and summary to the
// template.
func feedPrompt(tmpl string, row store.ArchiveRow) string {
	var sb strings.Builder
	sb.WriteString(tmpl)
	sb.WriteString(row.Key(store.ColumnURL))

	title, summary := row.Key(store.ColumnTitle), row.Key(store.ColumnSummary)
	if title != "" || summary != "" {
		sb.WriteString("\n\n")
		sb.WriteString(title)
		if summary != "" {
			if title != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(summary)
		}
	}
	return sb.String()
}
