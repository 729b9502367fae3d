// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/feedsync"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/mailbox"
	"go.astrophena.name/newsdigest/internal/pipeline"
	"go.astrophena.name/newsdigest/internal/store"
)

func (a *app) run(ctx context.Context) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	o, closeOracle, err := a.newOracle(ctx)
	if err != nil {
		return err
	}
	defer closeOracle()

	sink, err := a.newSink()
	if err != nil {
		return err
	}

	return pipeline.New(pipeline.Options{
		Store:   s,
		Oracle:  o,
		Sink:    sink,
		Config:  a.cfg,
		Metrics: a.metrics,
	}).Run(ctx)
}

func (a *app) refresh(ctx context.Context) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return feedsync.New(feedsync.Options{
		Store:      s,
		HTTPClient: a.httpc,
	}).Refresh(ctx, a.cfg.Streams)
}

// imapConfigured reports whether a mailbox to ingest newsletters from is set.
func (a *app) imapConfigured() bool { return a.getenv("IMAP_ADDR") != "" }

func (a *app) ingestMail(ctx context.Context) error {
	var cfg mailbox.Config
	for _, v := range []struct {
		p    *string
		name string
	}{
		{&cfg.Addr, "IMAP_ADDR"},
		{&cfg.Username, "IMAP_USERNAME"},
		{&cfg.Password, "IMAP_PASSWORD"},
	} {
		val, err := config.Require(a.getenv, v.name)
		if err != nil {
			return err
		}
		*v.p = val
	}
	cfg.Mailbox = cmp.Or(a.getenv("IMAP_MAILBOX"), a.cfg.Mailbox)

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	src, err := a.dialMailbox(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	if a.dry {
		src = dryRunSource{src}
	}

	n, err := mailbox.Ingest(ctx, src, s, a.cfg.MaxEmails)
	logger.Get(ctx).Info("ingested newsletters", "count", n)
	return err
}

type mailSource interface {
	mailbox.Source
	Close() error
}

// dryRunSource leaves messages unread, since dry-run mode discards the
// appends to the buffer.
type dryRunSource struct{ mailSource }

func (dryRunSource) MarkRead(ctx context.Context, uid uint32) error {
	logger.Get(ctx).Debug("dry run: leaving message unread", "uid", uid)
	return nil
}

func (a *app) dialMailbox(ctx context.Context, cfg mailbox.Config) (mailSource, error) {
	if a.dialIMAP != nil {
		return a.dialIMAP(ctx, cfg)
	}
	return mailbox.Dial(ctx, cfg)
}

type streamInfo struct {
	Name      string `json:"name"`
	Feed      string `json:"feed,omitempty"`
	URLPrefix string `json:"url_prefix,omitempty"`
	KeyColumn int    `json:"key_column"`
	Marker    string `json:"marker,omitempty"`
	Archived  bool   `json:"archived"`
}

// streams returns every declared stream with its current marker.
func (a *app) streams(ctx context.Context, s store.Store) ([]streamInfo, error) {
	var infos []streamInfo
	for _, st := range a.cfg.Streams {
		column := cmp.Or(st.KeyColumn, config.DefaultKeyColumn)
		marker, ok, err := s.LastArchivedKey(ctx, st.Name, column)
		if err != nil {
			return nil, err
		}
		infos = append(infos, streamInfo{
			Name:      st.Name,
			Feed:      st.Feed,
			URLPrefix: st.URLPrefix,
			KeyColumn: column,
			Marker:    marker,
			Archived:  ok,
		})
	}
	return infos, nil
}

func (a *app) listStreams(ctx context.Context, w io.Writer) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := a.streams(ctx, s)
	if err != nil {
		return err
	}

	if a.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tKEY\tMARKER")
	for _, info := range infos {
		marker := info.Marker
		if !info.Archived {
			marker = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", info.Name, info.KeyColumn, marker)
	}
	return tw.Flush()
}
