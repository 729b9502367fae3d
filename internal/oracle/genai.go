// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiSDK is a [Model] backed by the official Gemini Go SDK.
//
// Search grounding is not available through this backend.
type GeminiSDK struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

var _ Model = (*GeminiSDK)(nil)

// NewGeminiSDK connects to the Gemini API. Close releases the connection.
func NewGeminiSDK(ctx context.Context, apiKey, model string, temperature float64) (*GeminiSDK, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	m := client.GenerativeModel(model)
	m.SetTemperature(float32(temperature))
	return &GeminiSDK{client: client, model: m}, nil
}

// Generate implements [Model].
func (g *GeminiSDK) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates in response", ErrMalformed)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", ErrMalformed)
	}
	return sb.String(), nil
}

// Close closes the underlying client.
func (g *GeminiSDK) Close() error { return g.client.Close() }
