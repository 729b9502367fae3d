// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"net/http"
	"net/url"
	"time"

	"go.astrophena.name/newsdigest/internal/util/syncx"
	"go.astrophena.name/newsdigest/internal/version"
)

// Health returns the [HealthHandler] registered on mux at /health, creating it
// if necessary.
func Health(mux *http.ServeMux) *HealthHandler {
	h, pat := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	if hh, ok := h.(*HealthHandler); ok && pat == "/health" {
		return hh
	}
	hh := &HealthHandler{checks: syncx.Protect(make(checksMap))}
	mux.Handle("/health", hh)
	return hh
}

// HealthHandler reports the state of the registered checks. It responds with
// 503 Service Unavailable if any check fails.
type HealthHandler struct{ checks *syncx.Protected[checksMap] }

type checksMap = map[string]HealthFunc

// HealthFunc reports the state of a subsystem. It must be safe for concurrent
// use.
type HealthFunc func() (status string, ok bool)

// RegisterFunc registers the check f under name. It panics if name is taken.
func (h *HealthHandler) RegisterFunc(name string, f HealthFunc) {
	h.checks.WriteAccess(func(checks checksMap) {
		if _, dup := checks[name]; dup {
			panic("health: check " + name + " is already registered")
		}
		checks[name] = f
	})
}

// HealthResponse is the body of a /health response.
type HealthResponse struct {
	OK      bool                     `json:"ok"`
	Version string                   `json:"version"`
	Checks  map[string]CheckResponse `json:"checks"`
}

// CheckResponse is the state of a single check.
type CheckResponse struct {
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// ServeHTTP implements the [http.Handler] interface.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hr := &HealthResponse{
		OK:      true,
		Version: version.Version().Version,
		Checks:  make(map[string]CheckResponse),
	}
	h.checks.ReadAccess(func(checks checksMap) {
		for name, f := range checks {
			status, ok := f()
			hr.OK = hr.OK && ok
			hr.Checks[name] = CheckResponse{Status: status, OK: ok}
		}
	})

	if !hr.OK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	RespondJSON(w, hr)
}

// LastRun records the result of the latest scheduled job. Its Check method is
// a [HealthFunc] that fails while the latest job has failed.
type LastRun struct {
	p *syncx.Protected[*lastRun]
}

type lastRun struct {
	finished time.Time
	err      error
}

// NewLastRun returns a LastRun with no recorded jobs.
func NewLastRun() *LastRun { return &LastRun{p: syncx.Protect(&lastRun{})} }

// Record stores the result of a job that finished at t.
func (lr *LastRun) Record(t time.Time, err error) {
	lr.p.WriteAccess(func(r *lastRun) {
		r.finished = t
		r.err = err
	})
}

// Check implements [HealthFunc].
func (lr *LastRun) Check() (status string, ok bool) {
	lr.p.ReadAccess(func(r *lastRun) {
		switch {
		case r.finished.IsZero():
			status, ok = "no runs yet", true
		case r.err != nil:
			status, ok = "failed at "+r.finished.Format(time.RFC3339)+": "+r.err.Error(), false
		default:
			status, ok = "finished at "+r.finished.Format(time.RFC3339), true
		}
	})
	return status, ok
}
