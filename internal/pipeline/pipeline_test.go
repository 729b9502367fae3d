// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/oracle"
	"go.astrophena.name/newsdigest/internal/request"
	"go.astrophena.name/newsdigest/internal/store"
	"go.astrophena.name/newsdigest/internal/testutil"
)

type summarizerFunc func(ctx context.Context, prompt string) oracle.Outcome

func (f summarizerFunc) Summarize(ctx context.Context, prompt string) oracle.Outcome {
	return f(ctx, prompt)
}

type modelFunc func(ctx context.Context, prompt string) (string, error)

func (f modelFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// recorder records prompts and sent messages.
type recorder struct {
	mu       sync.Mutex
	prompts  []string
	messages []notify.Message
	sendErr  error
}

func (r *recorder) reply(f func(prompt string) oracle.Outcome) Summarizer {
	return summarizerFunc(func(_ context.Context, prompt string) oracle.Outcome {
		r.mu.Lock()
		r.prompts = append(r.prompts, prompt)
		r.mu.Unlock()
		return f(prompt)
	})
}

func (r *recorder) Send(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return r.sendErr
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var texts []string
	for _, m := range r.messages {
		texts = append(texts, m.Text())
	}
	return texts
}

func accept(text string) func(string) oracle.Outcome {
	return func(string) oracle.Outcome { return oracle.Outcome{Kind: oracle.Accepted, Text: text} }
}

func testConfig(streams ...config.Stream) *config.Config {
	cfg := config.Default()
	cfg.Streams = streams
	cfg.FeedPrompt = "feed: "
	cfg.EmailPrompt = "email: "
	cfg.ErrorTemplate = "error: %v"
	return cfg
}

func newTestPipeline(s store.Store, o Summarizer, sink notify.Sink, cfg *config.Config) (*Pipeline, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	return New(Options{
		Store:    s,
		Oracle:   o,
		Sink:     sink,
		Config:   cfg,
		Metrics:  m,
		Location: time.UTC,
	}), m
}

func putCandidates(t *testing.T, s store.Store, cs ...store.Candidate) {
	t.Helper()
	for _, c := range cs {
		if err := s.PutCandidate(t.Context(), c); err != nil {
			t.Fatal(err)
		}
	}
}

var rowX = store.Candidate{
	Stream:    "X",
	Title:     store.Text("T"),
	Summary:   store.Text("S"),
	URL:       store.Text("http://a"),
	CreatedAt: store.Text("2024/3/5"),
}

func TestAcceptedThenRerun(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, rowX)
	rec := &recorder{}
	p, m := newTestPipeline(s, rec.reply(accept("新薬の治験結果...")), rec, testConfig(config.Stream{Name: "X"}))

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.prompts, []string{"feed: http://a\n\nT\nS"})
	testutil.AssertEqual(t, rec.texts(), []string{"*X,* 2024/3/5\n新薬の治験結果...\nhttp://a"})
	testutil.AssertEqual(t, s.Archive("X"), []store.ArchiveRow{rowX.Row()})
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceFeed, "accepted")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.notifications.WithLabelValues("summary", "sent")), 1.0)

	// The marker now equals the URL, so nothing happens on the next run.
	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rec.prompts), 1)
	testutil.AssertEqual(t, len(rec.messages), 1)
	testutil.AssertEqual(t, len(s.Archive("X")), 1)
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceFeed, resultSkipped)), 1.0)
}

func TestRejected(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"Z", "Z but here is a summary anyway"} {
		t.Run(text, func(t *testing.T) {
			s := store.NewMemStore()
			putCandidates(t, s, rowX)
			rec := &recorder{}
			o := oracle.New(modelFunc(func(context.Context, string) (string, error) {
				return text, nil
			}), oracle.Options{})
			p, _ := newTestPipeline(s, o, rec, testConfig(config.Stream{Name: "X"}))

			if err := p.RunFeeds(t.Context()); err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, len(rec.messages), 0)
			testutil.AssertEqual(t, len(s.Archive("X")), 1)
		})
	}
}

func TestFailedAfterRetries(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, rowX, store.Candidate{
		Stream: "Y",
		Title:  store.Text("Other"),
		URL:    store.Text("http://b"),
	})

	var calls int
	o := oracle.New(modelFunc(func(_ context.Context, prompt string) (string, error) {
		calls++
		if prompt == "feed: http://b\n\nOther" {
			return "summary of b", nil
		}
		return "", &request.StatusError{Method: "POST", URL: "https://example.com", StatusCode: 503, Body: []byte("overloaded")}
	}), oracle.Options{RetryDelay: -1})

	rec := &recorder{}
	p, m := newTestPipeline(s, o, rec, testConfig(config.Stream{Name: "X"}, config.Stream{Name: "Y"}))

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}

	testutil.AssertEqual(t, calls, 4)
	testutil.AssertEqual(t, len(rec.messages), 2)
	alert := rec.messages[0]
	testutil.AssertEqual(t, alert.Alert, true)
	testutil.AssertContains(t, alert.Text(), "error: ")
	testutil.AssertContains(t, alert.Text(), "503")
	testutil.AssertEqual(t, rec.messages[1].Text(), "*Y,*\nsummary of b\nhttp://b")
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceFeed, "failed")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.notifications.WithLabelValues("alert", "sent")), 1.0)
}

func TestEmptyRowSkipped(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, store.Candidate{
		Stream:    "X",
		Title:     store.Text("#N/A"),
		Summary:   store.Error("#REF!"),
		URL:       store.Text("  "),
		CreatedAt: store.Text("2024/3/5"),
	})
	rec := &recorder{}
	p, _ := newTestPipeline(s, rec.reply(accept("nope")), rec, testConfig(config.Stream{Name: "X"}))

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rec.prompts), 0)
	testutil.AssertEqual(t, len(s.Archive("X")), 0)
}

func TestRowWithoutURLSkipped(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, store.Candidate{
		Stream:    "X",
		Title:     store.Text("T"),
		Summary:   store.Text("S"),
		URL:       store.Text("#N/A"),
		CreatedAt: store.Text("2024/3/5"),
	})
	rec := &recorder{}
	p, m := newTestPipeline(s, rec.reply(accept("sum")), rec, testConfig(config.Stream{Name: "X"}))

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rec.prompts), 0)
	testutil.AssertEqual(t, len(rec.messages), 0)
	testutil.AssertEqual(t, len(s.Archive("X")), 0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceFeed, resultSkipped)), 1.0)

	// A later article with a URL is still processed.
	putCandidates(t, s, store.Candidate{Stream: "X", Title: store.Text("T2"), URL: store.Text("http://b")})
	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.prompts, []string{"feed: http://b\n\nT2"})
	testutil.AssertEqual(t, len(s.Archive("X")), 1)
}

func TestArchiveBeforeOracle(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, rowX)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var calls int
	o := summarizerFunc(func(ctx context.Context, prompt string) oracle.Outcome {
		calls++
		testutil.AssertEqual(t, len(s.Archive("X")), 1)
		// The process dies before the notification is sent.
		cancel()
		return oracle.Outcome{Kind: oracle.Failed, Err: ctx.Err()}
	})
	rec := &recorder{}
	p, _ := newTestPipeline(s, o, rec, testConfig(config.Stream{Name: "X"}))

	if err := p.RunFeeds(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunFeeds() = %v, want context.Canceled", err)
	}
	testutil.AssertEqual(t, len(rec.messages), 0)

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, calls, 1)
	testutil.AssertEqual(t, len(s.Archive("X")), 1)
}

func TestUndeclaredStream(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, store.Candidate{Stream: "ghost", URL: store.Text("http://ghost")}, rowX)
	rec := &recorder{}
	p, m := newTestPipeline(s, rec.reply(accept("ok")), rec, testConfig(config.Stream{Name: "X"}))

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(s.Archive("ghost")), 0)
	testutil.AssertEqual(t, len(rec.messages), 1)
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceFeed, resultError)), 1.0)
}

func TestURLPrefix(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, store.Candidate{
		Stream: "X",
		Title:  store.Text("T"),
		URL:    store.Text("/news/1"),
	})
	rec := &recorder{}
	cfg := testConfig(config.Stream{Name: "X", URLPrefix: "https://example.com"})
	p, _ := newTestPipeline(s, rec.reply(accept("sum")), rec, cfg)

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.prompts, []string{"feed: https://example.com/news/1\n\nT"})
	testutil.AssertEqual(t, rec.texts(), []string{"*X,*\nsum\nhttps://example.com/news/1"})

	// The marker holds the prefixed URL, so the relative URL is recognized.
	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rec.prompts), 1)
}

func TestKeyColumn(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	if err := s.AppendArchive(t.Context(), "X", store.ArchiveRow{store.Text("T"), {}, store.Text("http://old"), {}}); err != nil {
		t.Fatal(err)
	}
	putCandidates(t, s, rowX)
	rec := &recorder{}
	cfg := testConfig(config.Stream{Name: "X", KeyColumn: store.ColumnTitle})
	p, _ := newTestPipeline(s, rec.reply(accept("sum")), rec, cfg)

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rec.prompts), 0)
}

func TestSendFailureIsLogged(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	putCandidates(t, s, rowX)
	rec := &recorder{sendErr: notify.SendFailed(errors.New("webhook down"))}
	p, m := newTestPipeline(s, rec.reply(accept("sum")), rec, testConfig(config.Stream{Name: "X"}))

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(rec.messages), 1)
	testutil.AssertEqual(t, promtest.ToFloat64(m.notifications.WithLabelValues("summary", "failed")), 1.0)
}

// brokenArchiveStore fails archive appends of one stream.
type brokenArchiveStore struct {
	*store.MemStore
	stream string
}

func (s *brokenArchiveStore) AppendArchive(ctx context.Context, stream string, row store.ArchiveRow) error {
	if stream == s.stream {
		return fmt.Errorf("%w: append archive: disk full", store.ErrUnavailable)
	}
	return s.MemStore.AppendArchive(ctx, stream, row)
}

func TestStoreFailureOnOneStream(t *testing.T) {
	t.Parallel()

	s := &brokenArchiveStore{MemStore: store.NewMemStore(), stream: "X"}
	rowY := rowX
	rowY.Stream = "Y"
	rowY.URL = store.Text("http://y")
	putCandidates(t, s, rowX, rowY)
	rec := &recorder{}
	cfg := testConfig(config.Stream{Name: "X"}, config.Stream{Name: "Y"})
	p, m := newTestPipeline(s, rec.reply(accept("sum")), rec, cfg)

	if err := p.RunFeeds(t.Context()); err != nil {
		t.Fatal(err)
	}
	// X is never summarized, since the archive comes first.
	testutil.AssertEqual(t, rec.prompts, []string{"feed: http://y\n\nT\nS"})
	testutil.AssertEqual(t, rec.texts(), []string{"*Y,* 2024/3/5\nsum\nhttp://y"})
	testutil.AssertEqual(t, len(s.Archive("Y")), 1)
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceFeed, resultError)), 1.0)
}

// countingStore counts buffer clears and can fail selected operations.
type countingStore struct {
	store.Store
	mu            sync.Mutex
	clears        int
	candidatesErr error
	emailsErr     error
}

func (s *countingStore) Candidates(ctx context.Context) ([]store.Candidate, error) {
	if s.candidatesErr != nil {
		return nil, s.candidatesErr
	}
	return s.Store.Candidates(ctx)
}

func (s *countingStore) Emails(ctx context.Context) ([]store.Email, error) {
	if s.emailsErr != nil {
		return nil, s.emailsErr
	}
	return s.Store.Emails(ctx)
}

func (s *countingStore) ClearEmails(ctx context.Context) error {
	s.mu.Lock()
	s.clears++
	s.mu.Unlock()
	return s.Store.ClearEmails(ctx)
}

func newCountingStore(t *testing.T, emails ...store.Email) *countingStore {
	t.Helper()
	mem := store.NewMemStore()
	for _, e := range emails {
		if err := mem.AppendEmail(t.Context(), e); err != nil {
			t.Fatal(err)
		}
	}
	return &countingStore{Store: mem}
}

var (
	emailA = store.Email{
		Subject:    "Weekly",
		Body:       "body a",
		From:       "alice@example.com",
		ReceivedAt: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
	}
	emailB = store.Email{
		Subject: "Daily",
		Body:    "body b",
		From:    "bob@example.com",
	}
)

func TestEmails(t *testing.T) {
	t.Parallel()

	s := newCountingStore(t, emailA, emailB)
	rec := &recorder{}
	o := rec.reply(func(prompt string) oracle.Outcome {
		if prompt == "email: Daily\nbody b" {
			return oracle.Outcome{Kind: oracle.Failed, Err: fmt.Errorf("%w: boom", oracle.ErrTransport)}
		}
		return oracle.Outcome{Kind: oracle.Accepted, Text: "summary a"}
	})
	p, m := newTestPipeline(s, o, rec, testConfig())

	if err := p.RunEmails(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rec.prompts, []string{"email: Weekly\nbody a", "email: Daily\nbody b"})
	testutil.AssertEqual(t, rec.texts(), []string{
		"*alice@example.com,* 2024/3/5\nsummary a\n",
		"error: oracle transport failed: boom",
	})
	testutil.AssertEqual(t, s.clears, 1)
	left, err := s.Emails(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(left), 0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.items.WithLabelValues(sourceEmail, "failed")), 1.0)
}

func TestEmailsEmptyBuffer(t *testing.T) {
	t.Parallel()

	s := newCountingStore(t)
	rec := &recorder{}
	p, _ := newTestPipeline(s, rec.reply(accept("x")), rec, testConfig())

	if err := p.RunEmails(t.Context()); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, s.clears, 1)
	testutil.AssertEqual(t, len(rec.prompts), 0)
}

func TestEmailsListFails(t *testing.T) {
	t.Parallel()

	s := newCountingStore(t, emailA)
	s.emailsErr = fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	rec := &recorder{}
	p, _ := newTestPipeline(s, rec.reply(accept("x")), rec, testConfig())

	err := p.RunEmails(t.Context())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("RunEmails() = %v, want ErrUnavailable", err)
	}
	testutil.AssertEqual(t, s.clears, 0)
}

func TestEmailsCancelled(t *testing.T) {
	t.Parallel()

	s := newCountingStore(t, emailA, emailB)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	rec := &recorder{}
	o := rec.reply(func(string) oracle.Outcome {
		cancel()
		return oracle.Outcome{Kind: oracle.Failed, Err: context.Canceled}
	})
	p, _ := newTestPipeline(s, o, rec, testConfig())

	if err := p.RunEmails(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunEmails() = %v, want context.Canceled", err)
	}
	testutil.AssertEqual(t, len(rec.prompts), 1)
	testutil.AssertEqual(t, len(rec.messages), 0)
	testutil.AssertEqual(t, s.clears, 0)
	left, err := s.Store.Emails(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, len(left), 2)
}

func TestRun(t *testing.T) {
	t.Parallel()

	s := newCountingStore(t, emailA)
	s.candidatesErr = fmt.Errorf("%w: timeout", store.ErrUnavailable)
	rec := &recorder{}
	p, m := newTestPipeline(s, rec.reply(accept("summary a")), rec, testConfig())

	err := p.Run(t.Context())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Run() = %v, want ErrUnavailable", err)
	}
	testutil.AssertContains(t, err.Error(), "feeds phase")

	// The email phase still ran.
	testutil.AssertEqual(t, s.clears, 1)
	testutil.AssertEqual(t, len(rec.messages), 2)
	testutil.AssertEqual(t, rec.messages[0].Alert, true)
	testutil.AssertContains(t, rec.messages[0].Text(), "feeds phase")
	testutil.AssertEqual(t, rec.messages[1].Text(), "*alice@example.com,* 2024/3/5\nsummary a\n")

	testutil.AssertEqual(t, promtest.ToFloat64(m.phaseErrors.WithLabelValues("feeds")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(m.phaseErrors.WithLabelValues("emails")), 0.0)
	if promtest.ToFloat64(m.lastRun) == 0 {
		t.Error("last run timestamp was not set")
	}
}

func TestRunBothPhasesFail(t *testing.T) {
	t.Parallel()

	s := newCountingStore(t)
	s.candidatesErr = errors.New("candidates")
	s.emailsErr = errors.New("emails")
	rec := &recorder{}
	p, _ := newTestPipeline(s, rec.reply(accept("x")), rec, testConfig())

	err := p.Run(t.Context())
	testutil.AssertContains(t, err.Error(), "feeds phase: listing candidates: candidates")
	testutil.AssertContains(t, err.Error(), "emails phase: listing emails: emails")
	testutil.AssertEqual(t, len(rec.messages), 2)
}

func TestMetricsRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	err := reg.Register(m.lastRun)
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		t.Fatalf("Register() = %v, want AlreadyRegisteredError", err)
	}
	testutil.AssertEqual(t, promtest.CollectAndCount(m.items), 0)
}
