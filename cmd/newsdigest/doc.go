// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Newsdigest summarizes news feeds and newsletters with an LLM and posts the
relevant ones to a chat.

# Usage

	$ newsdigest [flags...] <command>

# Commands

  - run: summarize new feed items and buffered newsletters and post the
    accepted summaries.
  - refresh: fetch every stream's feed and store its newest item.
  - ingest-mail: move unread newsletters from the IMAP mailbox into the buffer.
  - streams: list streams with the key of their last processed item.
  - serve: run refresh, ingest-mail and run on a cron schedule and serve
    /health, /metrics, /logs and /streams.

# Environment Variables

  - GEMINI_API_KEY: Gemini API key, required by the gemini and gemini-sdk
    oracles.
  - ANTHROPIC_API_KEY: Anthropic API key, required by the anthropic oracle.
  - ORACLE: model backend, one of gemini (default), gemini-sdk or anthropic.
  - NOTIFY: chat backend, one of slack (default) or telegram.
  - SLACK_WEBHOOK_URL: Slack incoming webhook URL.
  - TELEGRAM_TOKEN, CHAT_ID: Telegram bot token and chat.
  - DATABASE_URL: PostgreSQL connection string. If unset, state is kept in
    state.json in the state directory.
  - IMAP_ADDR, IMAP_USERNAME, IMAP_PASSWORD, IMAP_MAILBOX: newsletter
    mailbox.
  - STATE_DIRECTORY: state directory. Defaults to $XDG_STATE_HOME/newsdigest.
  - ADDR, SCHEDULE: override the -addr and -schedule flags.

Variables are also read from the .env file in the state directory. Variables
set in the environment take precedence.

# Configuration

Streams and prompts are declared in config.star in the state directory,
written in Starlark:

	streams = [
	    stream(name = "medical", feed = "https://example.com/medical.xml"),
	    stream(name = "nikkei", feed = "https://example.com/nikkei.xml", url_prefix = "https://www.nikkei.com"),
	]

	model = "gemini-2.0-flash"
	temperature = 0.5
	search = True
	retry_limit = 3
	retry_delay = "60s"

Optional globals: model, temperature, search, retry_limit, retry_delay,
rate_limit (requests per minute), feed_prompt, email_prompt, error_template,
mailbox and max_emails.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/newsdigest/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
