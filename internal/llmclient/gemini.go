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
	"context"
	"time"

	"google.golang.org/genai"

	"github.com/tschacht/microfactory/internal/ports"
)

// GeminiClient implements ports.LlmClient against Gemini via the official
// google.golang.org/genai SDK.
type GeminiClient struct {
	newClient func(ctx context.Context, apiKey string) (*genai.Client, error)
}

func NewGeminiClient() *GeminiClient {
	return &GeminiClient{newClient: defaultGeminiClientFactory}
}

func defaultGeminiClientFactory(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func (c *GeminiClient) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.newClient(reqCtx, opts.APIKey)
	if err != nil {
		return "", &ports.LlmError{Kind: ports.LlmErrorAuth, Message: "gemini client init: " + err.Error(), Err: err}
	}

	temp := float32(opts.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(opts.MaxTokens),
	}

	resp, err := client.Models.GenerateContent(reqCtx, opts.Model, genai.Text(prompt), cfg)
	if err != nil {
		if reqCtx.Err() != nil {
			return "", &ports.LlmError{Kind: ports.LlmErrorCanceled, Message: reqCtx.Err().Error(), Err: err}
		}
		return "", &ports.LlmError{Kind: ports.LlmErrorTransport, Message: err.Error(), Err: err}
	}

	text := resp.Text()
	if text == "" {
		return "", &ports.LlmError{Kind: ports.LlmErrorProvider, Message: "gemini response contained no text"}
	}
	return text, nil
}
