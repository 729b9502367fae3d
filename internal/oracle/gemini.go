// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.astrophena.name/newsdigest/internal/api/gemini"
)

// Gemini is a [Model] backed by the Gemini REST API.
type Gemini struct {
	client      *gemini.Client
	temperature float64
	search      bool
}

var _ Model = (*Gemini)(nil)

// GeminiOptions configure a [Gemini] model.
type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float64
	// Search enables Google Search grounding.
	Search bool
	// HTTPClient defaults to a client with a two minute timeout, since
	// grounded answers can take a while.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL.
	Endpoint string
}

// NewGemini returns a Gemini model.
func NewGemini(opts GeminiOptions) *Gemini {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Gemini{
		client: &gemini.Client{
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			HTTPClient: httpc,
			Endpoint:   opts.Endpoint,
		},
		temperature: opts.Temperature,
		search:      opts.Search,
	}
}

// Generate implements [Model].
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	temp := g.temperature
	params := gemini.GenerateContentParams{
		Contents: []*gemini.Content{{
			Parts: []*gemini.Part{{Text: prompt}},
		}},
		GenerationConfig: &gemini.GenerationConfig{Temperature: &temp},
	}
	if g.search {
		params.Tools = []*gemini.Tool{{GoogleSearch: &gemini.GoogleSearch{}}}
	}

	resp, err := g.client.GenerateContent(ctx, params)
	if err != nil {
		var (
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
		)
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return "", fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: no text in response", ErrMalformed)
	}
	return text, nil
}
