// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package web contains the HTTP server and handlers of the scheduled mode.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.astrophena.name/newsdigest/internal/logger"
)

// StatusErr is an error that carries an HTTP status code.
type StatusErr int

// Error returns the lowercase status text of the code.
func (se StatusErr) Error() string { return strings.ToLower(http.StatusText(int(se))) }

const (
	// ErrNotFound represents a not found error (HTTP 404).
	ErrNotFound StatusErr = http.StatusNotFound
	// ErrMethodNotAllowed represents a method not allowed error (HTTP 405).
	ErrMethodNotAllowed StatusErr = http.StatusMethodNotAllowed
	// ErrInternalServerError represents an internal server error (HTTP 500).
	ErrInternalServerError StatusErr = http.StatusInternalServerError
)

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RespondJSON writes response to w as indented JSON.
func RespondJSON(w http.ResponseWriter, response any) {
	b, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		b, _ = json.Marshal(&errorResponse{Status: "error", Error: "JSON marshal error: " + err.Error()})
		w.Write(b)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
	w.Write([]byte("\n"))
}

// RespondJSONError writes err to w as a JSON error response. The status code
// comes from a wrapped [StatusErr], or is 500 if there is none. Internal errors
// are logged with the logger carried by r's context.
func RespondJSONError(w http.ResponseWriter, r *http.Request, err error) {
	var se StatusErr
	if !errors.As(err, &se) {
		se = ErrInternalServerError
	}
	if se == ErrInternalServerError {
		logger.Get(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(se))
	b, _ := json.MarshalIndent(&errorResponse{Status: "error", Error: err.Error()}, "", "  ")
	w.Write(b)
	w.Write([]byte("\n"))
}
