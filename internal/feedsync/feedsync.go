// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feedsync fills the candidate rows from the streams' feeds.
package feedsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/store"
	"go.astrophena.name/newsdigest/internal/util/syncx"
	"go.astrophena.name/newsdigest/internal/version"
)

// DefaultConcurrency is the default number of feeds fetched at once.
const DefaultConcurrency = 4

// Options configure a [Refresher].
type Options struct {
	Store      store.Store
	HTTPClient *http.Client
	// Concurrency limits the number of feeds fetched at once. Defaults to
	// DefaultConcurrency.
	Concurrency int
}

// Refresher fetches feeds and stores their newest items as candidates.
type Refresher struct {
	store       store.Store
	httpc       *http.Client
	concurrency int
}

// New returns a Refresher.
func New(opts Options) *Refresher {
	r := &Refresher{
		store:       opts.Store,
		httpc:       opts.HTTPClient,
		concurrency: opts.Concurrency,
	}
	if r.httpc == nil {
		r.httpc = &http.Client{Timeout: time.Minute}
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	return r
}

type result struct {
	candidate store.Candidate
	err       error
}

// Refresh fetches the feed of every stream that has one and replaces the
// stream's candidate row with the feed's newest item. Feeds are fetched
// concurrently, but candidates are written in declaration order.
//
// A failure of one stream is logged and does not stop the others. All
// failures are returned joined.
func (r *Refresher) Refresh(ctx context.Context, streams []config.Stream) error {
	log := logger.Get(ctx)

	results := make([]result, len(streams))
	wg := syncx.NewLimitedWaitGroup(r.concurrency)
	for i, s := range streams {
		if s.Feed == "" {
			log.Debug("stream has no feed", "stream", s.Name)
			continue
		}
		wg.Go(func() {
			c, err := r.fetch(ctx, s)
			results[i] = result{candidate: c, err: err}
		})
	}
	wg.Wait()

	var errs []error
	for i, s := range streams {
		if s.Feed == "" {
			continue
		}
		res := results[i]
		if res.err == nil {
			res.err = r.store.PutCandidate(ctx, res.candidate)
		}
		if res.err != nil {
			err := fmt.Errorf("refreshing stream %q: %w", s.Name, res.err)
			log.Error("refreshing stream failed", "stream", s.Name, "feed", s.Feed, "error", res.err)
			errs = append(errs, err)
			continue
		}
		log.Info("refreshed stream", "stream", s.Name, "url", res.candidate.URL.String())
	}
	return errors.Join(errs...)
}

var errNoItems = errors.New("feed has no items")

func (r *Refresher) fetch(ctx context.Context, s config.Stream) (store.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Feed, nil)
	if err != nil {
		return store.Candidate{}, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := r.httpc.Do(req)
	if err != nil {
		return store.Candidate{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		const readLimit = 16384 // 16 KB is enough for error messages (probably)
		body, err := io.ReadAll(io.LimitReader(res.Body, readLimit))
		if err != nil {
			body = []byte("unable to read body")
		}
		return store.Candidate{}, fmt.Errorf("want 200, got %d: %s", res.StatusCode, body)
	}

	feed, err := gofeed.NewParser().Parse(res.Body)
	if err != nil {
		return store.Candidate{}, err
	}
	item := newest(feed.Items)
	if item == nil {
		return store.Candidate{}, errNoItems
	}
	return candidate(s.Name, item), nil
}

// newest returns the item with the latest publication date. Items without a
// date lose to dated ones. Among equals, the first one in the feed wins.
func newest(items []*gofeed.Item) *gofeed.Item {
	var (
		best     *gofeed.Item
		bestTime time.Time
	)
	for _, it := range items {
		t := published(it)
		if best == nil || t.After(bestTime) {
			best, bestTime = it, t
		}
	}
	return best
}

func published(it *gofeed.Item) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return *it.PublishedParsed
	case it.UpdatedParsed != nil:
		return *it.UpdatedParsed
	}
	return time.Time{}
}

func candidate(stream string, it *gofeed.Item) store.Candidate {
	c := store.Candidate{
		Stream:  stream,
		Title:   textCell(it.Title),
		Summary: textCell(plainText(it.Description)),
		URL:     textCell(it.Link),
	}
	switch {
	case it.PublishedParsed != nil || it.UpdatedParsed != nil:
		c.CreatedAt = store.Time(published(it))
	case it.Published != "":
		c.CreatedAt = store.Text(it.Published)
	}
	return c
}

func textCell(s string) store.Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return store.Cell{}
	}
	return store.Text(s)
}

// plainText strips markup from an item description.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
