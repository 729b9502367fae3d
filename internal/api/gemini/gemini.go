// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package gemini provides a client for interacting with a generative text API.
package gemini

import (
	"context"
	"net/http"
	"strings"

	"go.astrophena.name/newsdigest/internal/request"
)

// APIEndpoint is the base URL for the generative text API.
const APIEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// Client holds configuration for interacting with the generative text API.
type Client struct {
	// APIKey is the API key used for authentication.
	APIKey string
	// Model specifies the name of the model to use for generation.
	Model string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// GenerateContentParams defines the structure for the request body sent to the
// GenerateContent API.
type GenerateContentParams struct {
	// Contents is a list of Content objects representing the input text for
	// generation.
	Contents []*Content `json:"contents"`
	// SystemInstruction is an optional Content object specifying system
	// instructions for generation.
	SystemInstruction *Content `json:"systemInstruction,omitempty"`
	// GenerationConfig holds optional sampling parameters.
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
	// Tools lists the tools the model may use.
	Tools []*Tool `json:"tools,omitempty"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

// Tool enables a model capability. Only Google Search grounding is supported.
type Tool struct {
	GoogleSearch *GoogleSearch `json:"google_search,omitempty"`
}

// GoogleSearch enables search grounding. It has no options.
type GoogleSearch struct{}

// Content represents a piece of text content with a list of Part objects.
type Content struct {
	// Parts is a list of Part objects representing the textual elements within
	// the content.
	Parts []*Part `json:"parts"`
	// Role is the producer of the content, "user" or "model".
	Role string `json:"role,omitempty"`
}

// Part represents a textual element within a Content object.
type Part struct {
	// Text is the content of the textual element.
	Text string `json:"text"`
}

// GenerateContentResponse defines the structure of the response received from
// the GenerateContent API.
type GenerateContentResponse struct {
	// Candidates is a list of Candidate objects representing the generated text
	// alternatives.
	Candidates []*Candidate `json:"candidates"`
}

// Text returns the concatenated text parts of the first candidate, or an
// empty string if there is none.
func (r GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 || r.Candidates[0] == nil || r.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Candidate represents a generated text candidate with a corresponding Content
// object.
type Candidate struct {
	// Content is the generated text content for this candidate.
	Content *Content `json:"content"`
	// FinishReason tells why generation stopped.
	FinishReason string `json:"finishReason,omitempty"`
}

// GenerateContent sends a request to the generative text API to generate
// creative text content.
func (c *Client) GenerateContent(ctx context.Context, params GenerateContentParams) (GenerateContentResponse, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = APIEndpoint
	}
	return request.Make[GenerateContentResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    endpoint + "/models/" + c.Model + ":generateContent",
		Headers: map[string]string{
			"x-goog-api-key": c.APIKey,
		},
		Body:       params,
		HTTPClient: c.HTTPClient,
		Scrubber:   strings.NewReplacer(c.APIKey, "[EXPUNGED]"),
	})
}
