// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/newsdigest/internal/testutil"
)

type reply struct {
	text string
	err  error
}

type fakeModel struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if len(m.replies) == 0 {
		return "", errors.New("no more replies")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.text, r.err
}

func testOracle(m Model, opts Options) (*Oracle, *[]time.Duration) {
	o := New(m, opts)
	var slept []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) bool {
		slept = append(slept, d)
		return ctx.Err() == nil
	}
	return o, &slept
}

func TestSummarize(t *testing.T) {
	transportErr := errors.New("connection reset")

	cases := map[string]struct {
		replies   []reply
		opts      Options
		wantKind  Kind
		wantText  string
		wantErr   error
		wantCalls int
		wantSlept []time.Duration
	}{
		"accepted": {
			replies:   []reply{{text: "Summary."}},
			wantKind:  Accepted,
			wantText:  "Summary.",
			wantCalls: 1,
		},
		"rejected": {
			replies:   []reply{{text: "Z"}},
			wantKind:  Rejected,
			wantCalls: 1,
		},
		"rejected with trailing text": {
			replies:   []reply{{text: "Z (not relevant)"}},
			wantKind:  Rejected,
			wantCalls: 1,
		},
		"lowercase z is accepted": {
			replies:   []reply{{text: "zebrafish study"}},
			wantKind:  Accepted,
			wantText:  "zebrafish study",
			wantCalls: 1,
		},
		"retried until success": {
			replies:   []reply{{err: transportErr}, {text: ""}, {text: "Done."}},
			wantKind:  Accepted,
			wantText:  "Done.",
			wantCalls: 3,
			wantSlept: []time.Duration{60 * time.Second, 60 * time.Second},
		},
		"fails after retry limit": {
			replies:   []reply{{err: transportErr}, {err: transportErr}, {err: transportErr}, {text: "never"}},
			wantKind:  Failed,
			wantErr:   ErrTransport,
			wantCalls: 3,
			wantSlept: []time.Duration{60 * time.Second, 60 * time.Second},
		},
		"malformed is the last error": {
			replies:   []reply{{err: transportErr}, {text: "  \n"}},
			opts:      Options{RetryLimit: 2, RetryDelay: time.Second},
			wantKind:  Failed,
			wantErr:   ErrMalformed,
			wantCalls: 2,
			wantSlept: []time.Duration{time.Second},
		},
		"model errors keep their kind": {
			replies:   []reply{{err: ErrMalformed}},
			opts:      Options{RetryLimit: 1},
			wantKind:  Failed,
			wantErr:   ErrMalformed,
			wantCalls: 1,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := &fakeModel{replies: tc.replies}
			o, slept := testOracle(m, tc.opts)

			got := o.Summarize(context.Background(), "prompt")

			testutil.AssertEqual(t, got.Kind, tc.wantKind)
			testutil.AssertEqual(t, got.Text, tc.wantText)
			if tc.wantErr != nil && !errors.Is(got.Err, tc.wantErr) {
				t.Fatalf("want error %v, got %v", tc.wantErr, got.Err)
			}
			if tc.wantErr == nil && got.Err != nil {
				t.Fatalf("unexpected error: %v", got.Err)
			}
			testutil.AssertEqual(t, len(m.prompts), tc.wantCalls)
			testutil.AssertEqual(t, *slept, tc.wantSlept)
		})
	}
}

func TestSummarizeCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &fakeModel{replies: []reply{{err: errors.New("down")}, {text: "late"}}}
	o := New(m, Options{RetryDelay: time.Hour})
	o.sleep = func(ctx context.Context, d time.Duration) bool {
		cancel()
		return sleep(ctx, d)
	}

	got := o.Summarize(ctx, "prompt")
	testutil.AssertEqual(t, got.Kind, Failed)
	if !errors.Is(got.Err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", got.Err)
	}
	testutil.AssertEqual(t, len(m.prompts), 1)
}

func TestSummarizeCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &fakeModel{replies: []reply{{text: "ok"}}}
	o := New(m, Options{RateLimit: 1})

	got := o.Summarize(ctx, "prompt")
	testutil.AssertEqual(t, got.Kind, Failed)
	if !errors.Is(got.Err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", got.Err)
	}
	testutil.AssertEqual(t, len(m.prompts), 0)
}

func TestSleep(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("sleep was interrupted")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Fatal("sleep ignored cancellation")
	}
}

func TestNewDefaults(t *testing.T) {
	o := New(&fakeModel{}, Options{})
	testutil.AssertEqual(t, o.retryLimit, 3)
	if o.limiter != nil {
		t.Fatal("limiter must be nil without a rate limit")
	}

	o = New(&fakeModel{}, Options{RateLimit: 30})
	if o.limiter == nil {
		t.Fatal("limiter must be set")
	}
	testutil.AssertEqual(t, float64(o.limiter.Limit()), 0.5)
}

func TestKindString(t *testing.T) {
	testutil.AssertEqual(t, Accepted.String(), "accepted")
	testutil.AssertEqual(t, Rejected.String(), "rejected")
	testutil.AssertEqual(t, Failed.String(), "failed")
}
