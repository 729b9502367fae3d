// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of the [Store] interface.
//
// Cells are stored as JSONB using the same encoding as the JSON file backend.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS candidates (
	position BIGSERIAL,
	stream TEXT PRIMARY KEY,
	title JSONB NOT NULL,
	summary JSONB NOT NULL,
	url JSONB NOT NULL,
	created_at JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS archive (
	id BIGSERIAL PRIMARY KEY,
	stream TEXT NOT NULL,
	title JSONB NOT NULL,
	summary JSONB NOT NULL,
	url JSONB NOT NULL,
	created_at JSONB NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS archive_stream_id ON archive (stream, id DESC);

CREATE TABLE IF NOT EXISTS emails (
	id BIGSERIAL PRIMARY KEY,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	sender TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);
`

var cellColumns = [...]string{"title", "summary", "url", "created_at"}

// NewPostgresStore connects to the database and creates the tables if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, unavailable("create schema", err)
	}
	return &PostgresStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *PostgresStore) exec(ctx context.Context, op string, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return unavailable(op, err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func encodeCells(cells ...Cell) ([]any, error) {
	vals := make([]any, len(cells))
	for i, c := range cells {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		vals[i] = b
	}
	return vals, nil
}

func decodeCells(raw [][]byte, cells ...*Cell) error {
	for i, c := range cells {
		if err := json.Unmarshal(raw[i], c); err != nil {
			return err
		}
	}
	return nil
}

// Candidates returns the candidate rows in insertion order.
func (s *PostgresStore) Candidates(ctx context.Context) ([]Candidate, error) {
	query, args, err := s.sb.
		Select(append([]string{"stream"}, cellColumns[:]...)...).
		From("candidates").
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, unavailable("list candidates", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list candidates", err)
	}
	defer rows.Close()

	var cs []Candidate
	for rows.Next() {
		var (
			c   Candidate
			raw = make([][]byte, len(cellColumns))
		)
		if err := rows.Scan(&c.Stream, &raw[0], &raw[1], &raw[2], &raw[3]); err != nil {
			return nil, unavailable("scan candidate", err)
		}
		if err := decodeCells(raw, &c.Title, &c.Summary, &c.URL, &c.CreatedAt); err != nil {
			return nil, unavailable("decode candidate "+c.Stream, err)
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list candidates", err)
	}
	return cs, nil
}

// LastArchivedKey reads the key column of the latest archive row of stream.
func (s *PostgresStore) LastArchivedKey(ctx context.Context, stream string, column int) (string, bool, error) {
	if column < 1 || column > len(cellColumns) {
		return "", false, fmt.Errorf("invalid key column %d", column)
	}
	query, args, err := s.sb.
		Select(cellColumns[column-1]).
		From("archive").
		Where(sq.Eq{"stream": stream}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, unavailable("last archived key", err)
	}

	var raw []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, unavailable("last archived key", err)
	}

	var row ArchiveRow
	if err := json.Unmarshal(raw, &row[column-1]); err != nil {
		return "", false, unavailable("decode archived key", err)
	}
	return row.Key(column), true, nil
}

// AppendArchive appends row to the archive of stream.
func (s *PostgresStore) AppendArchive(ctx context.Context, stream string, row ArchiveRow) error {
	vals, err := encodeCells(row[:]...)
	if err != nil {
		return unavailable("append archive", err)
	}
	return s.exec(ctx, "append archive", s.sb.
		Insert("archive").
		Columns(append([]string{"stream"}, cellColumns[:]...)...).
		Values(append([]any{stream}, vals...)...))
}

// Emails returns the email buffer in arrival order.
func (s *PostgresStore) Emails(ctx context.Context) ([]Email, error) {
	query, args, err := s.sb.
		Select("subject", "body", "sender", "received_at").
		From("emails").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, unavailable("list emails", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list emails", err)
	}
	defer rows.Close()

	var es []Email
	for rows.Next() {
		var e Email
		if err := rows.Scan(&e.Subject, &e.Body, &e.From, &e.ReceivedAt); err != nil {
			return nil, unavailable("scan email", err)
		}
		es = append(es, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list emails", err)
	}
	return es, nil
}

// ClearEmails empties the email buffer.
func (s *PostgresStore) ClearEmails(ctx context.Context) error {
	return s.exec(ctx, "clear emails", s.sb.Delete("emails"))
}

// PutCandidate upserts the candidate row of c.Stream, keeping its position.
func (s *PostgresStore) PutCandidate(ctx context.Context, c Candidate) error {
	vals, err := encodeCells(c.Title, c.Summary, c.URL, c.CreatedAt)
	if err != nil {
		return unavailable("put candidate", err)
	}
	return s.exec(ctx, "put candidate", s.sb.
		Insert("candidates").
		Columns(append([]string{"stream"}, cellColumns[:]...)...).
		Values(append([]any{c.Stream}, vals...)...).
		Suffix(`ON CONFLICT (stream) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			url = EXCLUDED.url,
			created_at = EXCLUDED.created_at`))
}

// AppendEmail appends e to the email buffer.
func (s *PostgresStore) AppendEmail(ctx context.Context, e Email) error {
	return s.exec(ctx, "append email", s.sb.
		Insert("emails").
		Columns("subject", "body", "sender", "received_at").
		Values(e.Subject, e.Body, e.From, e.ReceivedAt))
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
