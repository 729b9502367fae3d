// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package oracle

import (
	"context"
	"fmt"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// DefaultAnthropicModel is used when no Claude model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic is a [Model] backed by the Anthropic Messages API.
type Anthropic struct {
	// prompt sends a user prompt and returns the text of the first content
	// block.
	prompt func(user string) (string, error)
}

var _ Model = (*Anthropic)(nil)

// NewAnthropic returns an Anthropic model.
func NewAnthropic(apiKey, model string, temperature float64) *Anthropic {
	if model == "" {
		model = DefaultAnthropicModel
	}
	settings := types.RequestSettings{
		Model:       model,
		MaxTokens:   1024,
		Temperature: temperature,
	}
	return &Anthropic{
		prompt: func(user string) (string, error) {
			resp, err := anthropic.PromptWithSettings("", user, "", apiKey, settings)
			if err != nil {
				return "", err
			}
			if len(resp.Content) == 0 {
				return "", nil
			}
			return resp.Content[0].Text, nil
		},
	}
}

// Generate implements [Model]. The underlying client does not take a context,
// so cancellation is only observed before and after the call.
func (a *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := a.prompt(prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: no text in response", ErrMalformed)
	}
	return text, nil
}
