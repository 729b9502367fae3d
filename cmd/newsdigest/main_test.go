// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/newsdigest/internal/cli"
	"go.astrophena.name/newsdigest/internal/cli/clitest"
	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/filelock"
	"go.astrophena.name/newsdigest/internal/mailbox"
	"go.astrophena.name/newsdigest/internal/store"
	"go.astrophena.name/newsdigest/internal/testutil"
)

const testConfig = `
streams = [
    stream("X", feed = "https://example.com/x.xml"),
]
retry_limit = 1
retry_delay = "1ms"
`

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>X</title>
  <item>
    <title>Fresh</title>
    <link>https://example.com/fresh</link>
    <description>Fresh news.</description>
    <pubDate>Tue, 05 Mar 2024 10:00:00 +0000</pubDate>
  </item>
</channel>
</rss>`

const slackWebhook = "https://hooks.slack.com/services/test"

var testEnv = map[string]string{
	"GEMINI_API_KEY":    "test",
	"SLACK_WEBHOOK_URL": slackWebhook,
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fakeWeb answers Gemini, Slack and feed requests and records posted Slack
// messages.
type fakeWeb struct {
	mu    sync.Mutex
	slack []string
}

func (fw *fakeWeb) client() *http.Client {
	mux := http.NewServeMux()
	mux.HandleFunc("POST generativelanguage.googleapis.com/v1beta/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"要約"}]}}]}`))
	})
	mux.HandleFunc("POST hooks.slack.com/services/test", func(w http.ResponseWriter, r *http.Request) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fw.mu.Lock()
		fw.slack = append(fw.slack, p.Text)
		fw.mu.Unlock()
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET example.com/x.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	})
	return &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, r)
			return w.Result(), nil
		}),
	}
}

func (fw *fakeWeb) messages() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.slack
}

func fakeOf(t *testing.T, a *app) *fakeWeb {
	t.Helper()
	fw, ok := testFakes.Load(a)
	if !ok {
		t.Fatal("app has no fake web")
	}
	return fw.(*fakeWeb)
}

var testFakes sync.Map // *app → *fakeWeb

// testApp returns an app with config.star and a candidate for stream X in a
// fresh state directory.
func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.star"), []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := store.NewJSONFile(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutCandidate(context.Background(), store.Candidate{
		Stream:    "X",
		Title:     store.Text("新薬の治験結果"),
		Summary:   store.Text("第3相試験で有効性を確認"),
		URL:       store.Text("https://example.com/a"),
		CreatedAt: store.Text("2024-03-05"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	fw := new(fakeWeb)
	a := &app{stateDir: dir, httpc: fw.client()}
	testFakes.Store(a, fw)
	t.Cleanup(func() { testFakes.Delete(a) })
	return a
}

func openState(t *testing.T, a *app) store.Store {
	t.Helper()
	s, err := store.NewJSONFile(filepath.Join(a.stateDir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeMailbox struct{ read []uint32 }

func (m *fakeMailbox) Unread(ctx context.Context, limit int) ([]mailbox.Message, error) {
	return []mailbox.Message{{
		UID: 7,
		Email: store.Email{
			Subject:    "Weekly",
			Body:       "News of the week.",
			From:       "Editor <editor@example.com>",
			ReceivedAt: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		},
	}}, nil
}

func (m *fakeMailbox) MarkRead(ctx context.Context, uid uint32) error {
	m.read = append(m.read, uid)
	return nil
}

func (m *fakeMailbox) Close() error { return nil }

func TestRun(t *testing.T) {
	t.Parallel()

	clitest.Run(t, testApp, map[string]clitest.Case[*app]{
		"no command": {
			Args:    []string{},
			WantErr: cli.ErrInvalidArgs,
		},
		"unknown command": {
			Args:    []string{"frobnicate"},
			WantErr: cli.ErrInvalidArgs,
		},
		"extra arguments": {
			Args:    []string{"run", "now"},
			WantErr: cli.ErrInvalidArgs,
		},
		"version": {
			Args:    []string{"-version"},
			WantErr: cli.ErrExitVersion,
		},
		"streams": {
			Args:         []string{"streams"},
			WantInStdout: "STREAM",
			CheckFunc: func(t *testing.T, a *app) {
				// Nothing is archived yet.
				key, ok, err := openState(t, a).LastArchivedKey(context.Background(), "X", config.DefaultKeyColumn)
				if err != nil {
					t.Fatal(err)
				}
				if ok || key != "" {
					t.Errorf("archive of X must be empty, got key %q", key)
				}
			},
		},
		"streams in JSON": {
			Args:         []string{"-json", "streams"},
			WantInStdout: `"name": "X"`,
		},
		"run": {
			Args: []string{"run"},
			Env:  testEnv,
			CheckFunc: func(t *testing.T, a *app) {
				want := "*X,* 2024/3/5\n要約\nhttps://example.com/a"
				testutil.AssertEqual(t, fakeOf(t, a).messages(), []string{want})

				key, ok, err := openState(t, a).LastArchivedKey(context.Background(), "X", config.DefaultKeyColumn)
				if err != nil {
					t.Fatal(err)
				}
				if !ok || key != "https://example.com/a" {
					t.Errorf("last archived key = %q, %v, want https://example.com/a", key, ok)
				}
			},
		},
		"run without API key": {
			Args:    []string{"run"},
			Env:     map[string]string{"SLACK_WEBHOOK_URL": slackWebhook},
			WantErr: config.ErrMissing,
		},
		"run with unknown oracle": {
			Args: []string{"run"},
			Env: map[string]string{
				"ORACLE":            "crystal-ball",
				"SLACK_WEBHOOK_URL": slackWebhook,
			},
			WantErr: cli.ErrInvalidArgs,
		},
		"run with unknown sink": {
			Args: []string{"run"},
			Env: map[string]string{
				"GEMINI_API_KEY": "test",
				"NOTIFY":         "carrier-pigeon",
			},
			WantErr: cli.ErrInvalidArgs,
		},
		"dry run": {
			Args: []string{"-dry", "run"},
			Env:  map[string]string{"GEMINI_API_KEY": "test"},
			CheckFunc: func(t *testing.T, a *app) {
				if msgs := fakeOf(t, a).messages(); len(msgs) != 0 {
					t.Errorf("dry run must not post, got %q", msgs)
				}
				_, ok, err := openState(t, a).LastArchivedKey(context.Background(), "X", config.DefaultKeyColumn)
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Error("dry run must not archive")
				}
			},
		},
		"refresh": {
			Args: []string{"refresh"},
			CheckFunc: func(t *testing.T, a *app) {
				cs, err := openState(t, a).Candidates(context.Background())
				if err != nil {
					t.Fatal(err)
				}
				if len(cs) != 1 {
					t.Fatalf("want 1 candidate, got %d", len(cs))
				}
				testutil.AssertEqual(t, cs[0].Title.String(), "Fresh")
				testutil.AssertEqual(t, cs[0].URL.String(), "https://example.com/fresh")
			},
		},
		"ingest-mail without credentials": {
			Args:    []string{"ingest-mail"},
			Env:     map[string]string{"IMAP_ADDR": "imap.example.com:993"},
			WantErr: config.ErrMissing,
		},
		"invalid schedule": {
			Args:    []string{"-schedule", "every tuesday", "serve"},
			WantErr: cli.ErrInvalidArgs,
		},
		"invalid schedule from environment": {
			Args:    []string{"serve"},
			Env:     map[string]string{"SCHEDULE": "61 * * * *"},
			WantErr: cli.ErrInvalidArgs,
		},
	})
}

func TestIngestMail(t *testing.T) {
	t.Parallel()

	imapEnv := map[string]string{
		"IMAP_ADDR":     "imap.example.com:993",
		"IMAP_USERNAME": "digest",
		"IMAP_PASSWORD": "secret",
	}
	ingest := func(t *testing.T, args ...string) (*app, *fakeMailbox, mailbox.Config) {
		t.Helper()
		a := testApp(t)
		mb := new(fakeMailbox)
		var gotCfg mailbox.Config
		a.dialIMAP = func(ctx context.Context, cfg mailbox.Config) (mailSource, error) {
			gotCfg = cfg
			return mb, nil
		}
		env := &cli.Env{
			Args:   args,
			Getenv: func(name string) string { return imapEnv[name] },
			Stdin:  strings.NewReader(""),
			Stdout: io.Discard,
			Stderr: io.Discard,
		}
		if err := cli.Run(cli.WithEnv(context.Background(), env), a); err != nil {
			t.Fatal(err)
		}
		return a, mb, gotCfg
	}

	t.Run("buffers and marks read", func(t *testing.T) {
		t.Parallel()
		a, mb, cfg := ingest(t, "ingest-mail")

		testutil.AssertEqual(t, cfg.Mailbox, config.DefaultMailbox)
		testutil.AssertEqual(t, mb.read, []uint32{7})

		emails, err := openState(t, a).Emails(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(emails) != 1 || emails[0].Subject != "Weekly" {
			t.Fatalf("unexpected email buffer: %+v", emails)
		}
	})

	t.Run("dry run leaves mail unread", func(t *testing.T) {
		t.Parallel()
		a, mb, _ := ingest(t, "-dry", "ingest-mail")

		if len(mb.read) != 0 {
			t.Errorf("dry run must not mark messages read, got %v", mb.read)
		}
		emails, err := openState(t, a).Emails(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, len(emails), 0)
	})
}

func TestMissingConfig(t *testing.T) {
	t.Parallel()

	clitest.Run(t, func(t *testing.T) *app {
		return &app{stateDir: t.TempDir()}
	}, map[string]clitest.Case[*app]{
		"no config.star": {
			Args:    []string{"streams"},
			WantErr: config.ErrMissing,
		},
	})
}

func TestAlreadyRunning(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	lock, err := filelock.Acquire(filepath.Join(a.stateDir, "newsdigest.lock"), "run")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	var stderr bytes.Buffer
	env := &cli.Env{
		Args:   []string{"run"},
		Getenv: func(name string) string { return testEnv[name] },
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: &stderr,
	}
	err = cli.Run(cli.WithEnv(context.Background(), env), a)
	if !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("want errAlreadyRunning, got %v", err)
	}
	if msgs := fakeOf(t, a).messages(); len(msgs) != 0 {
		t.Errorf("locked run must not post, got %q", msgs)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	a := testApp(t)
	ready := make(chan net.Addr, 1)
	a.serveReady = func(addr net.Addr) { ready <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := &cli.Env{
		Args:   []string{"-addr", "localhost:0", "serve"},
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
	errc := make(chan error, 1)
	go func() { errc <- cli.Run(cli.WithEnv(ctx, env), a) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-errc:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr.String()

	get := func(path string) []byte {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: want 200, got %d: %s", path, resp.StatusCode, b)
		}
		return b
	}

	testutil.AssertContains(t, string(get("/health")), "no runs yet")
	testutil.AssertContains(t, string(get("/metrics")), "go_goroutines")

	infos := testutil.UnmarshalJSON[[]streamInfo](t, get("/streams"))
	if len(infos) != 1 || infos[0].Name != "X" || infos[0].Archived {
		t.Errorf("unexpected streams: %+v", infos)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(35 * time.Second):
		t.Fatal("server did not shut down")
	}
}
