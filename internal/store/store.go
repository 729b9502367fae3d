// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements the tabular state of newsdigest: per-stream
// candidate rows, append-only per-stream archives and the email buffer.
//
// It has in-memory, JSON file and PostgreSQL backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps every failure of a backend.
var ErrUnavailable = errors.New("store unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Store is the backing store consumed by the pipelines and filled by the
// feed refresher and mail ingester.
type Store interface {
	// Candidates returns one row per tracked stream, in insertion order.
	Candidates(ctx context.Context) ([]Candidate, error)
	// LastArchivedKey returns the given 1-based column of the most recent
	// archive row of stream. ok is false if the archive is empty. An absent or
	// error cell yields an empty key with ok set.
	LastArchivedKey(ctx context.Context, stream string, column int) (key string, ok bool, err error)
	// AppendArchive appends row to the archive of stream.
	AppendArchive(ctx context.Context, stream string, row ArchiveRow) error
	// Emails returns the buffered emails in arrival order.
	Emails(ctx context.Context) ([]Email, error)
	// ClearEmails removes every buffered email.
	ClearEmails(ctx context.Context) error
	// PutCandidate replaces the candidate row of c.Stream, or appends it if the
	// stream has none.
	PutCandidate(ctx context.Context, c Candidate) error
	// AppendEmail appends e to the email buffer.
	AppendEmail(ctx context.Context, e Email) error
	// Close closes the store and releases any resources.
	Close() error
}

// Candidate is the latest item of a tracked stream.
type Candidate struct {
	Stream    string `json:"stream"`
	Title     Cell   `json:"title"`
	Summary   Cell   `json:"summary"`
	URL       Cell   `json:"url"`
	CreatedAt Cell   `json:"created_at"`
}

// Row returns the archive row holding the candidate's cells.
func (c Candidate) Row() ArchiveRow {
	return ArchiveRow{c.Title, c.Summary, c.URL, c.CreatedAt}
}

// Archive columns, 1-based.
const (
	ColumnTitle = iota + 1
	ColumnSummary
	ColumnURL
	ColumnCreatedAt
)

// ArchiveRow is a processed item: title, summary, url and creation date.
type ArchiveRow [4]Cell

// Key returns the display form of the given 1-based column. Absent, error and
// out of range cells yield an empty key.
func (r ArchiveRow) Key(column int) string {
	if column < 1 || column > len(r) {
		return ""
	}
	c := r[column-1]
	if _, isErr := c.Value().(ErrorValue); isErr {
		return ""
	}
	return c.String()
}

// Email is a buffered newsletter message.
type Email struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

// tables is the whole state, shared by the in-memory and JSON file backends.
type tables struct {
	Candidates []Candidate             `json:"candidates"`
	Archives   map[string][]ArchiveRow `json:"archives"`
	Emails     []Email                 `json:"emails"`
}

func (t *tables) putCandidate(c Candidate) {
	for i := range t.Candidates {
		if t.Candidates[i].Stream == c.Stream {
			t.Candidates[i] = c
			return
		}
	}
	t.Candidates = append(t.Candidates, c)
}

func (t *tables) appendArchive(stream string, row ArchiveRow) {
	if t.Archives == nil {
		t.Archives = make(map[string][]ArchiveRow)
	}
	t.Archives[stream] = append(t.Archives[stream], row)
}

func (t *tables) lastArchivedKey(stream string, column int) (string, bool) {
	rows := t.Archives[stream]
	if len(rows) == 0 {
		return "", false
	}
	return rows[len(rows)-1].Key(column), true
}
