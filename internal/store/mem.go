// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"slices"

	"go.astrophena.name/newsdigest/internal/util/syncx"
)

// MemStore is an in-memory implementation of the [Store] interface.
type MemStore struct {
	t *syncx.Protected[*tables]
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{t: syncx.Protect(&tables{})}
}

// Candidates returns a copy of the candidate rows.
func (s *MemStore) Candidates(_ context.Context) (cs []Candidate, err error) {
	s.t.ReadAccess(func(t *tables) { cs = slices.Clone(t.Candidates) })
	return cs, nil
}

// LastArchivedKey reads the key column of the latest archive row of stream.
func (s *MemStore) LastArchivedKey(_ context.Context, stream string, column int) (key string, ok bool, err error) {
	s.t.ReadAccess(func(t *tables) { key, ok = t.lastArchivedKey(stream, column) })
	return key, ok, nil
}

// AppendArchive appends row to the archive of stream.
func (s *MemStore) AppendArchive(_ context.Context, stream string, row ArchiveRow) error {
	s.t.WriteAccess(func(t *tables) { t.appendArchive(stream, row) })
	return nil
}

// Archive returns a copy of the archive of stream.
func (s *MemStore) Archive(stream string) (rows []ArchiveRow) {
	s.t.ReadAccess(func(t *tables) { rows = slices.Clone(t.Archives[stream]) })
	return rows
}

// Emails returns a copy of the email buffer.
func (s *MemStore) Emails(_ context.Context) (es []Email, err error) {
	s.t.ReadAccess(func(t *tables) { es = slices.Clone(t.Emails) })
	return es, nil
}

// ClearEmails empties the email buffer.
func (s *MemStore) ClearEmails(_ context.Context) error {
	s.t.WriteAccess(func(t *tables) { t.Emails = nil })
	return nil
}

// PutCandidate stores the candidate row of c.Stream.
func (s *MemStore) PutCandidate(_ context.Context, c Candidate) error {
	s.t.WriteAccess(func(t *tables) { t.putCandidate(c) })
	return nil
}

// AppendEmail appends e to the email buffer.
func (s *MemStore) AppendEmail(_ context.Context, e Email) error {
	s.t.WriteAccess(func(t *tables) { t.Emails = append(t.Emails, e) })
	return nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
