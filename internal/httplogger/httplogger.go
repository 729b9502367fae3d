// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides a http.RoundTripper middleware that logs
// outgoing HTTP requests at debug level.
//
// Only the method and host of a request are logged. Webhook and bot API
// paths carry secrets.
package httplogger

import (
	"net/http"
	"time"

	"go.astrophena.name/newsdigest/internal/logger"
)

// New returns a http.RoundTripper that logs every round trip of t to the
// logger carried by the request context. If t is nil, http.DefaultTransport
// is used.
func New(t http.RoundTripper) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &loggingTransport{transport: t}
}

type loggingTransport struct {
	transport http.RoundTripper
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []any{
		"method", r.Method,
		"host", r.URL.Host,
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	logger.Get(r.Context()).Debug("http request", attrs...)

	return resp, err
}
