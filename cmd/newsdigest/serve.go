// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.astrophena.name/newsdigest/internal/cli"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/pipeline"
	"go.astrophena.name/newsdigest/internal/systemd"
	"go.astrophena.name/newsdigest/internal/web"
)

const logLines = 1000

func (a *app) serve(ctx context.Context) error {
	if !gronx.IsValid(a.schedule) {
		return fmt.Errorf("%w: invalid schedule %q", cli.ErrInvalidArgs, a.schedule)
	}

	// Tee the log into a ring buffer served at /logs.
	env := cli.GetEnv(ctx)
	streamer := logger.NewStreamer(logLines)
	l := logger.New(io.MultiWriter(env.Stderr, streamer))
	l.Level.Set(logger.Get(ctx).Level.Level())
	ctx = logger.Put(ctx, l)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = pipeline.NewMetrics(reg)

	last := web.NewLastRun()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("GET /logs", streamer)
	mux.HandleFunc("GET /streams", func(w http.ResponseWriter, r *http.Request) {
		s, err := a.openStore(r.Context())
		if err != nil {
			web.RespondJSONError(w, r, err)
			return
		}
		defer s.Close()
		infos, err := a.streams(r.Context(), s)
		if err != nil {
			web.RespondJSONError(w, r, err)
			return
		}
		web.RespondJSON(w, infos)
	})
	web.Health(mux).RegisterFunc("last-run", last.Check)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr <- web.ListenAndServe(ctx, &web.ListenAndServeConfig{
			Addr: a.addr,
			Mux:  mux,
			Ready: func(addr net.Addr) {
				systemd.Notify(ctx, a.getenv, systemd.Ready)
				if a.serveReady != nil {
					a.serveReady(addr)
				}
			},
		})
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		systemd.WatchdogLoop(ctx, a.getenv)
	}()
	defer systemd.Notify(ctx, a.getenv, systemd.Stopping)

	log := logger.Get(ctx)
	log.Info("scheduler started", "schedule", a.schedule)
	for {
		next, err := gronx.NextTickAfter(a.schedule, time.Now(), false)
		if err != nil {
			return err
		}
		log.Debug("next run scheduled", "at", next)
		systemd.Notify(ctx, a.getenv, systemd.Status("next run at "+next.Format(time.RFC3339)))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return <-serveErr
		case err := <-serveErr:
			timer.Stop()
			return err
		case <-timer.C:
		}

		err = a.scheduled(ctx)
		if err != nil {
			log.Error("scheduled run failed", "error", err)
		}
		last.Record(time.Now(), err)
	}
}

// scheduled runs refresh, ingest-mail when a mailbox is configured, and run,
// one after another under the run lock.
func (a *app) scheduled(ctx context.Context) error {
	return a.locked(ctx, "serve", func(ctx context.Context) error {
		var errs []error
		if err := a.refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("refresh: %w", err))
		}
		if a.imapConfigured() {
			if err := a.ingestMail(ctx); err != nil {
				errs = append(errs, fmt.Errorf("ingest-mail: %w", err))
			}
		}
		if err := a.run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("run: %w", err))
		}
		return errors.Join(errs...)
	})
}
