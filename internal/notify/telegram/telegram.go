// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram delivers notifications over the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/request"
)

const (
	tgAPI          = "https://api.telegram.org"
	maxMessageLen  = 4096
	sendRetryLimit = 5 // attempts per chunk while rate limited
)

// Config configures a Telegram sink.
type Config struct {
	ChatID     string
	Token      string
	HTTPClient *http.Client
}

// Sink sends messages to a single chat.
type Sink struct {
	chatID      string
	token       string
	httpc       *http.Client
	scrubber    *strings.Replacer
	makeRequest func(context.Context, string, any) error
	sleep       func(context.Context, time.Duration) bool
}

var _ notify.Sink = (*Sink)(nil)

// New returns a Telegram sink.
func New(cfg Config) *Sink {
	s := &Sink{
		chatID:   cfg.ChatID,
		token:    cfg.Token,
		httpc:    cfg.HTTPClient,
		scrubber: strings.NewReplacer(cfg.Token, "[EXPUNGED]"),
	}
	if s.httpc == nil {
		s.httpc = request.DefaultClient
	}
	s.makeRequest = s.makeTelegramRequest
	s.sleep = sleep
	return s
}

type message struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Send implements [notify.Sink]. Messages longer than Telegram allows are
// split into several. It waits and tries again only when Telegram explicitly
// asks to slow down.
func (s *Sink) Send(ctx context.Context, m notify.Message) error {
	tgmsg := &message{ChatID: s.chatID}
	tgmsg.LinkPreviewOptions.IsDisabled = m.Alert

	for _, chunk := range splitMessage(m.Text()) {
		tgmsg.Text = chunk

		var err error
		for range sendRetryLimit {
			err = s.makeRequest(ctx, "sendMessage", tgmsg)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable {
				break
			}

			logger.Get(ctx).Warn("sending rate limited, waiting", "chat_id", s.chatID, "wait", wait)
			if !s.sleep(ctx, wait) {
				return notify.SendFailed(ctx.Err())
			}
		}
		if err != nil {
			return notify.SendFailed(err)
		}
	}
	return nil
}

func (s *Sink) makeTelegramRequest(ctx context.Context, method string, args any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        tgAPI + "/bot" + s.token + "/" + method,
		Body:       args,
		HTTPClient: s.httpc,
		Scrubber:   s.scrubber,
	})
	return err
}

func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxMessageLen {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)
		for i, r := range text {
			if runeCount == maxMessageLen {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		if chunk := strings.TrimSpace(text[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}
	return chunks
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}
	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
