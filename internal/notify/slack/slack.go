// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package slack delivers notifications to a Slack-compatible incoming webhook.
package slack

import (
	"context"
	"net/http"
	"strings"

	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/request"
)

// Sink posts messages to an incoming webhook.
type Sink struct {
	webhookURL string
	httpc      *http.Client
	scrubber   *strings.Replacer
}

var _ notify.Sink = (*Sink)(nil)

// New returns a Sink posting to webhookURL. If httpc is nil,
// request.DefaultClient is used.
func New(webhookURL string, httpc *http.Client) *Sink {
	return &Sink{
		webhookURL: webhookURL,
		httpc:      httpc,
		// The webhook URL is a secret.
		scrubber: strings.NewReplacer(webhookURL, "[EXPUNGED]"),
	}
}

type payload struct {
	Text string `json:"text"`
}

// Send implements [notify.Sink].
func (s *Sink) Send(ctx context.Context, m notify.Message) error {
	if _, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        s.webhookURL,
		Body:       payload{Text: m.Text()},
		HTTPClient: s.httpc,
		Scrubber:   s.scrubber,
	}); err != nil {
		return notify.SendFailed(err)
	}
	return nil
}
