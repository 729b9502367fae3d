// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package mailbox

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"go.astrophena.name/newsdigest/internal/logger"
)

// Config holds the IMAP connection settings.
type Config struct {
	// Addr is host:port of an IMAP server that speaks TLS.
	Addr     string
	Username string
	Password string
	// Mailbox is the name of the mailbox to read. Defaults to "INBOX".
	Mailbox   string
	TLSConfig *tls.Config
}

// IMAP is a [Source] backed by an IMAP mailbox.
type IMAP struct {
	c    *client.Client
	stop func() bool
}

// Dial connects to the server, logs in and selects the mailbox. The
// connection is terminated when ctx is done.
func Dial(ctx context.Context, cfg Config) (*IMAP, error) {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}

	c, err := client.DialTLS(cfg.Addr, cfg.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Addr, err)
	}
	m := &IMAP{
		c:    c,
		stop: context.AfterFunc(ctx, func() { c.Terminate() }),
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		m.Close()
		return nil, fmt.Errorf("logging in as %s: %w", cfg.Username, err)
	}
	if _, err := c.Select(cfg.Mailbox, false); err != nil {
		m.Close()
		return nil, fmt.Errorf("selecting %q: %w", cfg.Mailbox, err)
	}
	return m, nil
}

// Unread implements [Source].
func (m *IMAP) Unread(ctx context.Context, limit int) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// UIDs grow with arrival, so the largest ones are the newest.
	slices.SortFunc(uids, func(a, b uint32) int { return cmp.Compare(b, a) })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchInternalDate}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- m.c.UidFetch(seqset, items, ch) }()

	log := logger.Get(ctx)
	var msgs []Message
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			log.Warn("server returned no message body", "uid", msg.Uid)
			continue
		}
		e, err := Parse(body)
		if err != nil {
			log.Warn("parsing message failed", "uid", msg.Uid, "error", err)
			continue
		}
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = msg.InternalDate
		}
		msgs = append(msgs, Message{UID: msg.Uid, Email: e})
	}
	if err := <-done; err != nil {
		return nil, err
	}

	slices.SortFunc(msgs, func(a, b Message) int { return cmp.Compare(b.UID, a.UID) })
	return msgs, nil
}

// MarkRead implements [Source].
func (m *IMAP) MarkRead(_ context.Context, uid uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.c.UidStore(seqset, item, []any{imap.SeenFlag}, nil)
}

// Close logs out and closes the connection.
func (m *IMAP) Close() error {
	m.stop()
	err := m.c.Logout()
	if errors.Is(err, client.ErrAlreadyLoggedOut) {
		return nil
	}
	return err
}
