// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package mailbox moves unread newsletters from a mailbox into the email
// buffer.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/store"
)

// Message is an unread message.
type Message struct {
	UID   uint32
	Email store.Email
}

// Source is a mailbox with unread messages.
type Source interface {
	// Unread returns at most limit unread messages, newest first. Reading a
	// message must not mark it read.
	Unread(ctx context.Context, limit int) ([]Message, error)
	// MarkRead marks the message with the given UID as read.
	MarkRead(ctx context.Context, uid uint32) error
}

// Ingest appends up to limit unread messages from src to the email buffer of s,
// newest first, and marks each one read once it is stored. A message that
// could not be stored stays unread. Ingest returns the number of ingested
// messages.
func Ingest(ctx context.Context, src Source, s store.Store, limit int) (int, error) {
	log := logger.Get(ctx)

	msgs, err := src.Unread(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing unread messages: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.AppendEmail(ctx, m.Email); err != nil {
			log.Error("storing message failed", "uid", m.UID, "subject", m.Email.Subject, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := src.MarkRead(ctx, m.UID); err != nil {
			log.Error("marking message read failed", "uid", m.UID, "error", err)
			errs = append(errs, err)
		}
		n++
		log.Info("ingested message", "uid", m.UID, "from", m.Email.From, "subject", m.Email.Subject)
	}
	return n, errors.Join(errs...)
}
