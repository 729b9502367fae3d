// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.astrophena.name/newsdigest/internal/cli"
	"go.astrophena.name/newsdigest/internal/config"
	"go.astrophena.name/newsdigest/internal/notify"
	"go.astrophena.name/newsdigest/internal/notify/slack"
	"go.astrophena.name/newsdigest/internal/notify/telegram"
	"go.astrophena.name/newsdigest/internal/oracle"
	"go.astrophena.name/newsdigest/internal/store"
)

// openStore opens PostgreSQL if DATABASE_URL is set, and state.json in the
// state directory otherwise. In dry-run mode writes are discarded.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	if dsn := a.getenv("DATABASE_URL"); dsn != "" {
		s, err = store.NewPostgresStore(ctx, dsn)
	} else {
		s, err = store.NewJSONFile(filepath.Join(a.stateDir, "state.json"))
	}
	if err != nil {
		return nil, err
	}
	if a.dry {
		return store.ReadOnly(s), nil
	}
	return s, nil
}

// newOracle builds the oracle selected by ORACLE. The returned close
// function releases the model's resources.
func (a *app) newOracle(ctx context.Context) (o *oracle.Oracle, closeFunc func() error, err error) {
	closeFunc = func() error { return nil }

	var m oracle.Model
	switch backend := cmp.Or(a.getenv("ORACLE"), "gemini"); backend {
	case "gemini":
		key, err := config.Require(a.getenv, "GEMINI_API_KEY")
		if err != nil {
			return nil, nil, err
		}
		m = oracle.NewGemini(oracle.GeminiOptions{
			APIKey:      key,
			Model:       a.cfg.Model,
			Temperature: a.cfg.Temperature,
			Search:      a.cfg.Search,
			HTTPClient:  a.httpc,
		})
	case "gemini-sdk":
		key, err := config.Require(a.getenv, "GEMINI_API_KEY")
		if err != nil {
			return nil, nil, err
		}
		sdk, err := oracle.NewGeminiSDK(ctx, key, a.cfg.Model, a.cfg.Temperature)
		if err != nil {
			return nil, nil, err
		}
		m, closeFunc = sdk, sdk.Close
	case "anthropic":
		key, err := config.Require(a.getenv, "ANTHROPIC_API_KEY")
		if err != nil {
			return nil, nil, err
		}
		model := a.cfg.Model
		if strings.HasPrefix(model, "gemini") {
			model = oracle.DefaultAnthropicModel
		}
		m = oracle.NewAnthropic(key, model, a.cfg.Temperature)
	default:
		return nil, nil, fmt.Errorf("%w: unknown ORACLE %q", cli.ErrInvalidArgs, backend)
	}

	return oracle.New(m, oracle.Options{
		RetryLimit: a.cfg.RetryLimit,
		RetryDelay: a.cfg.RetryDelay,
		RateLimit:  a.cfg.RateLimit,
	}), closeFunc, nil
}

// newSink builds the sink selected by NOTIFY. In dry-run mode messages are
// only logged.
func (a *app) newSink() (notify.Sink, error) {
	if a.dry {
		return notify.Log{}, nil
	}
	switch backend := cmp.Or(a.getenv("NOTIFY"), "slack"); backend {
	case "slack":
		url, err := config.Require(a.getenv, "SLACK_WEBHOOK_URL")
		if err != nil {
			return nil, err
		}
		return slack.New(url, a.httpc), nil
	case "telegram":
		token, err := config.Require(a.getenv, "TELEGRAM_TOKEN")
		if err != nil {
			return nil, err
		}
		chatID, err := config.Require(a.getenv, "CHAT_ID")
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{ChatID: chatID, Token: token, HTTPClient: a.httpc}), nil
	default:
		return nil, fmt.Errorf("%w: unknown NOTIFY %q", cli.ErrInvalidArgs, backend)
	}
}
