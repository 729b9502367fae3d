// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"

	"go.astrophena.name/newsdigest/internal/logger"
)

// ReadOnly returns a Store that reads from s and discards every write,
// logging it at debug level instead. It is used for dry runs.
func ReadOnly(s Store) Store { return readOnly{s} }

type readOnly struct{ Store }

func (r readOnly) AppendArchive(ctx context.Context, stream string, row ArchiveRow) error {
	logger.Get(ctx).Debug("dry run: not appending archive row", "stream", stream, "url", row.Key(ColumnURL))
	return nil
}

func (r readOnly) ClearEmails(ctx context.Context) error {
	logger.Get(ctx).Debug("dry run: not clearing email buffer")
	return nil
}

func (r readOnly) PutCandidate(ctx context.Context, c Candidate) error {
	logger.Get(ctx).Debug("dry run: not storing candidate", "stream", c.Stream, "url", c.URL.String())
	return nil
}

func (r readOnly) AppendEmail(ctx context.Context, e Email) error {
	logger.Get(ctx).Debug("dry run: not buffering email", "subject", e.Subject)
	return nil
}
