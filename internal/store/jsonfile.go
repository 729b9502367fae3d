// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"io/fs"
	"slices"

	"crawshaw.dev/jsonfile"
)

// JSONFile is a file-backed implementation of the [Store] interface.
type JSONFile struct {
	f *jsonfile.JSONFile[tables]
}

var _ Store = (*JSONFile)(nil)

// NewJSONFile opens the store backed by the file at path, creating it if it
// doesn't exist.
func NewJSONFile(path string) (*JSONFile, error) {
	f, err := jsonfile.Load[tables](path)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = jsonfile.New[tables](path)
		if err == nil {
			err = f.Write(func(t *tables) error {
				t.Archives = make(map[string][]ArchiveRow)
				return nil
			})
		}
	}
	if err != nil {
		return nil, unavailable("open "+path, err)
	}
	return &JSONFile{f: f}, nil
}

// Candidates returns the candidate rows.
func (s *JSONFile) Candidates(_ context.Context) (cs []Candidate, err error) {
	s.f.Read(func(t *tables) { cs = slices.Clone(t.Candidates) })
	return cs, nil
}

// LastArchivedKey reads the key column of the latest archive row of stream.
func (s *JSONFile) LastArchivedKey(_ context.Context, stream string, column int) (key string, ok bool, err error) {
	s.f.Read(func(t *tables) { key, ok = t.lastArchivedKey(stream, column) })
	return key, ok, nil
}

// AppendArchive appends row to the archive of stream.
func (s *JSONFile) AppendArchive(_ context.Context, stream string, row ArchiveRow) error {
	return s.write("append archive", func(t *tables) { t.appendArchive(stream, row) })
}

// Emails returns the email buffer.
func (s *JSONFile) Emails(_ context.Context) (es []Email, err error) {
	s.f.Read(func(t *tables) { es = slices.Clone(t.Emails) })
	return es, nil
}

// ClearEmails empties the email buffer.
func (s *JSONFile) ClearEmails(_ context.Context) error {
	return s.write("clear emails", func(t *tables) { t.Emails = nil })
}

// PutCandidate stores the candidate row of c.Stream.
func (s *JSONFile) PutCandidate(_ context.Context, c Candidate) error {
	return s.write("put candidate", func(t *tables) { t.putCandidate(c) })
}

// AppendEmail appends e to the email buffer.
func (s *JSONFile) AppendEmail(_ context.Context, e Email) error {
	return s.write("append email", func(t *tables) { t.Emails = append(t.Emails, e) })
}

func (s *JSONFile) write(op string, f func(*tables)) error {
	if err := s.f.Write(func(t *tables) error {
		f(t)
		return nil
	}); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// Close closes the file store.
func (s *JSONFile) Close() error { return nil }
