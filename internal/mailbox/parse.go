// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package mailbox

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"go.astrophena.name/newsdigest/internal/store"
)

// Parse reads a message in RFC 5322 format into an email record. The body is
// the first text/plain part, or the first text/html part converted to
// Markdown when the message has no plain text.
func Parse(r io.Reader) (store.Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return store.Email{}, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	var e store.Email
	if e.Subject, err = mr.Header.Subject(); err != nil {
		e.Subject = mr.Header.Get("Subject")
	}
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		e.From = formatAddress(addrs[0])
	} else {
		e.From = mr.Header.Get("From")
	}
	if date, err := mr.Header.Date(); err == nil {
		e.ReceivedAt = date
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return store.Email{}, fmt.Errorf("reading message part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			ct, _, _ = mime.ParseMediaType(h.Get("Content-Type"))
		}
		if ct != "text/plain" && ct != "text/html" {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return store.Email{}, fmt.Errorf("reading %s part: %w", ct, err)
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		e.Body = strings.TrimSpace(plain)
	case html != "":
		if e.Body, err = htmlToText(html); err != nil {
			return store.Email{}, err
		}
	}
	return e, nil
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// htmlToText renders an HTML body as Markdown without scripts, styles and
// the document head.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing HTML body: %w", err)
	}
	doc.Find("head, script, style").Remove()
	conv := md.NewConverter("", true, nil)
	return strings.TrimSpace(conv.Convert(doc.Selection)), nil
}
