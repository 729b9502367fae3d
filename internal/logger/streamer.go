// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package logger

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Streamer is an io.Writer that keeps the most recent log lines and lets
// followers receive new ones.
type Streamer interface {
	io.Writer
	// ServeHTTP writes the kept lines. With the follow=1 query parameter, or
	// when server-sent events are accepted, it then streams new lines until
	// the client goes away.
	http.Handler

	// Lines returns the kept lines, oldest first.
	Lines() []string

	// Stream returns a channel of newly written lines. A slow receiver misses
	// lines. The returned function unsubscribes and closes the channel.
	Stream() (<-chan string, func())
}

// NewStreamer returns a Streamer that keeps the last size lines.
func NewStreamer(size int) Streamer {
	return &lineBuffer{
		lines:     make([]string, size),
		followers: make(map[chan string]struct{}),
	}
}

type lineBuffer struct {
	mu        sync.RWMutex
	lines     []string // ring, next is the oldest slot
	next      int
	full      bool
	partial   string
	followers map[chan string]struct{}
}

func (lb *lineBuffer) Write(b []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	text := lb.partial + string(b)
	for {
		line, rest, ok := strings.Cut(text, "\n")
		if !ok {
			break
		}
		line += "\n"
		lb.push(line)
		for ch := range lb.followers {
			select {
			case ch <- line:
			default:
			}
		}
		text = rest
	}
	lb.partial = text
	return len(b), nil
}

func (lb *lineBuffer) push(line string) {
	if len(lb.lines) == 0 {
		return
	}
	lb.lines[lb.next] = line
	lb.next = (lb.next + 1) % len(lb.lines)
	if lb.next == 0 {
		lb.full = true
	}
}

func (lb *lineBuffer) Lines() []string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	if !lb.full {
		return append([]string(nil), lb.lines[:lb.next]...)
	}
	return append(append([]string(nil), lb.lines[lb.next:]...), lb.lines[:lb.next]...)
}

func (lb *lineBuffer) Stream() (<-chan string, func()) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	ch := make(chan string, len(lb.lines)+1)
	lb.followers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			lb.mu.Lock()
			defer lb.mu.Unlock()
			delete(lb.followers, ch)
			close(ch)
		})
	}
}

func (lb *lineBuffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	sse := strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
	follow := sse || r.URL.Query().Get("follow") == "1"
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}

	// Subscribe before writing the backlog so that no line falls in between.
	var (
		stream <-chan string
		stop   = func() {}
	)
	if follow {
		stream, stop = lb.Stream()
	}
	defer stop()

	write := func(line string) {
		if sse {
			// See https://html.spec.whatwg.org/multipage/server-sent-events.html.
			fmt.Fprintf(w, "event: logline\ndata: %s\n", line)
			return
		}
		io.WriteString(w, line)
	}
	for _, line := range lb.Lines() {
		write(line)
	}
	if !follow {
		return
	}

	flusher, _ := w.(http.Flusher)
	for {
		if flusher != nil {
			flusher.Flush()
		}
		select {
		case line := <-stream:
			write(line)
		case <-r.Context().Done():
			return
		}
	}
}

var _ Streamer = (*lineBuffer)(nil)
