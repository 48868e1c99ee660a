// Copyright 2025 Microfactory Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tschacht/microfactory/internal/ports"
)

// openAIChatRequest/openAIChatResponse mirror the minimal subset of the
// Chat Completions wire format the sampler needs.
type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAICompatibleClient implements ports.LlmClient against any
// OpenAI-compatible Chat Completions endpoint. It backs both the "openai"
// and "grok" providers (xAI's API is OpenAI-compatible), differing only in
// BaseURL.
type OpenAICompatibleClient struct {
	BaseURL      string
	ProviderName string
	HTTPClient   *http.Client
}

// NewOpenAIClient builds a client against the official OpenAI API.
func NewOpenAIClient(httpClient *http.Client) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{BaseURL: "https://api.openai.com/v1", ProviderName: "openai", HTTPClient: httpClient}
}

// NewGrokClient builds a client against xAI's OpenAI-compatible API.
func NewGrokClient(httpClient *http.Client) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{BaseURL: "https://api.x.ai/v1", ProviderName: "grok", HTTPClient: httpClient}
}

func (c *OpenAICompatibleClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	reqBody := openAIChatRequest{
		Model:       opts.Model,
		Messages:    []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%s: encode request: %w", c.ProviderName, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", c.ProviderName, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+opts.APIKey)

	resp, err := c.client().Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return "", &ports.LlmError{Kind: ports.LlmErrorCanceled, Message: reqCtx.Err().Error(), Err: err}
		}
		return "", &ports.LlmError{Kind: ports.LlmErrorTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", newAPIError(c.ProviderName, resp.StatusCode, string(body), nil)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: "malformed response: " + err.Error(), Err: err}
	}
	if parsed.Error != nil {
		return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: "response contained no choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}
