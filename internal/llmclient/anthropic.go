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

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicClient implements ports.LlmClient against the Anthropic
// Messages API.
type AnthropicClient struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

func NewAnthropicClient(httpClient *http.Client) *AnthropicClient {
	return &AnthropicClient{BaseURL: "https://api.anthropic.com/v1", APIVersion: "2023-06-01", HTTPClient: httpClient}
}

func (c *AnthropicClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *AnthropicClient) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	reqBody := anthropicRequest{
		Model:       opts.Model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("anthropic: encode request: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", opts.APIKey)
	httpReq.Header.Set("anthropic-version", c.APIVersion)

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
		return "", newAPIError("anthropic", resp.StatusCode, string(body), nil)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: "malformed response: " + err.Error(), Err: err}
	}
	if parsed.Error != nil {
		return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: parsed.Error.Message}
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: "response contained no text block"}
}
