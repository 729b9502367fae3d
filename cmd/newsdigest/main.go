// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"go.astrophena.name/newsdigest/internal/cli"
	"go.astrophena.name/newsdigest/internal/cli/envflag"
	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/filelock"
	"go.astrophena.name/newsdigest/internal/httplogger"
	"go.astrophena.name/newsdigest/internal/logger"
	"go.astrophena.name/newsdigest/internal/mailbox"
	"go.astrophena.name/newsdigest/internal/pipeline"
)

var errAlreadyRunning = errors.New("already running")

func main() { cli.Main(new(app)) }

type app struct {
	// flags
	dry        bool
	verbose    bool
	json       bool
	configPath string
	addr       string
	schedule   string

	// stateDir, httpc, dialIMAP and serveReady may be set before Run, mostly
	// by tests.
	stateDir   string
	httpc      *http.Client
	dialIMAP   func(context.Context, mailbox.Config) (mailSource, error)
	serveReady func(net.Addr)

	// initialized by Run
	getenv  func(string) string
	cfg     *config.Config
	metrics *pipeline.Metrics // set in serve mode
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log actions, but don't send messages or write state.")
	fs.BoolVar(&a.verbose, "v", false, "Enable debug logging.")
	fs.BoolVar(&a.json, "json", false, "Output in JSON format (honored by streams).")
	fs.StringVar(&a.configPath, "config", "", "Path to config.star. Defaults to config.star in the state directory.")
	envflag.Var(fs, &a.addr, "addr", "ADDR", "localhost:3000", "Listen on `host:port` in serve mode.")
	envflag.Var(fs, &a.schedule, "schedule", "SCHEDULE", "0 * * * *", "Cron `expression` of serve mode runs.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	if len(env.Args) > 1 {
		return fmt.Errorf("%w: %s takes no arguments", cli.ErrInvalidArgs, env.Args[0])
	}

	if a.dry || a.verbose {
		logger.Get(ctx).Level.Set(slog.LevelDebug)
	}

	if err := a.init(ctx, env); err != nil {
		return err
	}
	if a.verbose {
		a.logHTTP()
	}

	switch command := env.Args[0]; command {
	case "run":
		return a.locked(ctx, command, a.run)
	case "refresh":
		return a.locked(ctx, command, a.refresh)
	case "ingest-mail":
		return a.locked(ctx, command, a.ingestMail)
	case "streams":
		return a.listStreams(ctx, env.Stdout)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

// init resolves the state directory, reads the .env file and loads the
// configuration.
func (a *app) init(ctx context.Context, env *cli.Env) error {
	a.stateDir = cmp.Or(a.stateDir, env.Getenv("STATE_DIRECTORY"))
	if a.stateDir == "" {
		xdgStateHome := env.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		a.stateDir = filepath.Join(xdgStateHome, "newsdigest")
	}
	if err := os.MkdirAll(a.stateDir, 0o700); err != nil {
		return err
	}

	dotenv, err := godotenv.Read(filepath.Join(a.stateDir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading .env: %w", err)
	}
	a.getenv = func(key string) string {
		return cmp.Or(env.Getenv(key), dotenv[key])
	}

	path := cmp.Or(a.configPath, filepath.Join(a.stateDir, "config.star"))
	log := logger.Get(ctx)
	a.cfg, err = config.Load(path, func(msg string) { log.Info(msg, "source", "config.star") })
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	return nil
}

// logHTTP makes outgoing requests logged at debug level.
func (a *app) logHTTP() {
	if a.httpc == nil {
		a.httpc = &http.Client{Timeout: 2 * time.Minute}
	} else {
		c := *a.httpc
		a.httpc = &c
	}
	a.httpc.Transport = httplogger.New(a.httpc.Transport)
}

// locked runs f while holding the run lock of the state directory.
func (a *app) locked(ctx context.Context, command string, f func(context.Context) error) error {
	lock, err := filelock.Acquire(filepath.Join(a.stateDir, "newsdigest.lock"), command)
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		return fmt.Errorf("%w: %w", errAlreadyRunning, err)
	}
	if err != nil {
		return err
	}
	defer lock.Release()
	return f(ctx)
}
