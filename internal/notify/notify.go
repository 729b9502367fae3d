// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package notify defines chat notifications and the sinks that deliver them.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.astrophena.name/newsdigest/internal/logger"
)

// ErrSendFailed wraps every delivery failure of a [Sink].
var ErrSendFailed = errors.New("notification not sent")

// SendFailed wraps err with [ErrSendFailed].
func SendFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrSendFailed, err)
}

// Message is a single chat notification.
type Message struct {
	// Prefix is the header line, such as "*stream,* 2025/5/3".
	Prefix string
	Body   string
	// Suffix is the footer line, usually the article URL.
	Suffix string
	// Alert marks error reports.
	Alert bool
}

// Text returns the message as it is posted: prefix, body and suffix joined by
// newlines. Alerts are posted as the bare body.
func (m Message) Text() string {
	if m.Alert {
		return m.Body
	}
	return m.Prefix + "\n" + m.Body + "\n" + m.Suffix
}

// Alert returns an error report built from the printf-style template tmpl
// with err as its only argument.
func Alert(tmpl string, err error) Message {
	return Message{Body: fmt.Sprintf(tmpl, err), Alert: true}
}

// Sink delivers messages. A sink never retries a failed delivery on its own
// and reports it with an error wrapping [ErrSendFailed].
type Sink interface {
	Send(ctx context.Context, m Message) error
}

// Log is a [Sink] that only logs messages. It is used for dry runs.
type Log struct{}

// Send implements [Sink].
func (Log) Send(ctx context.Context, m Message) error {
	logger.Get(ctx).Info("dry run: not sending message", "alert", m.Alert, "text", m.Text())
	return nil
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(context.Context, Message) error

// Send calls f(ctx, m).
func (f SinkFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }
