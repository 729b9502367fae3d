// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"

	"go.astrophena.name/newsdigest/internal/testutil"
)

func TestListenAndServeConfig(t *testing.T) {
	cases := map[string]struct {
		c       *ListenAndServeConfig
		wantErr error
	}{
		"no Addr": {
			c:       &ListenAndServeConfig{Mux: http.NewServeMux()},
			wantErr: errNoAddr,
		},
		"nil Mux": {
			c:       &ListenAndServeConfig{Addr: ":3000"},
			wantErr: errNilMux,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := ListenAndServe(t.Context(), tc.c)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ListenAndServe() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestListenAndServe(t *testing.T) {
	ready := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /hello", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ListenAndServe(ctx, &ListenAndServeConfig{
			Addr:  "localhost:0",
			Mux:   mux,
			Ready: func(addr net.Addr) { ready <- addr },
		}); err != nil {
			errCh <- err
		}
	}()

	var addr net.Addr
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during startup: %v", err)
	case addr = <-ready:
	}

	for _, path := range []string{"/hello", "/health"} {
		res, err := http.Get("http://" + addr.String() + path)
		if err != nil {
			t.Fatal(err)
		}
		res.Body.Close()
		testutil.AssertEqual(t, res.StatusCode, http.StatusOK)
	}

	cancel()
	wg.Wait()
	select {
	case err := <-errCh:
		t.Fatalf("Test server crashed during shutdown: %v", err)
	default:
	}
}
