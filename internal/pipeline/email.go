// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import (
	"context"
	"fmt"

	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/store"
)

// RunEmails summarizes every buffered email and then clears the buffer once,
// even if some emails failed. If listing the buffer fails, or ctx is done
// before the pass completes, the buffer is kept.
func (p *Pipeline) RunEmails(ctx context.Context) error {
	log := logger.Get(ctx)

	emails, err := p.store.Emails(ctx)
	if err != nil {
		return fmt.Errorf("listing emails: %w", err)
	}

	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processEmail(ctx, e)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.store.ClearEmails(ctx); err != nil {
		return fmt.Errorf("clearing emails: %w", err)
	}
	log.Info("email buffer cleared", "count", len(emails))
	return nil
}

func (p *Pipeline) processEmail(ctx context.Context, e store.Email) {
	var date string
	if !e.ReceivedAt.IsZero() {
		t := e.ReceivedAt.In(p.loc)
		date = ymd(t.Year(), int(t.Month()), t.Day())
	}
	logger.Get(ctx).Info("summarizing email", "from", e.From, "subject", e.Subject)
	p.summarize(ctx, sourceEmail, emailPrompt(p.cfg.EmailPrompt, e), notify.Message{
		Prefix: prefix(e.From, date),
	})
}

func emailPrompt(tmpl string, e store.Email) string {
	return tmpl + e.Subject + "\n" + e.Body
}
