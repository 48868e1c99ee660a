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
	"fmt"
	"net/http"

	"github.com/tschacht/microfactory/internal/ports"
)

// Router dispatches a Complete call to the adapter registered for
// opts.Provider, implementing a single ports.LlmClient the rest of the
// system depends on regardless of how many providers are configured.
type Router struct {
	clients map[string]ports.LlmClient
}

// NewRouter wires the default adapter set for the four supported
// providers against a shared *http.Client (Gemini manages its own
// transport through the genai SDK).
func NewRouter(httpClient *http.Client) *Router {
	return &Router{clients: map[string]ports.LlmClient{
		"openai":    NewOpenAIClient(httpClient),
		"anthropic": NewAnthropicClient(httpClient),
		"grok":      NewGrokClient(httpClient),
		"gemini":    NewGeminiClient(),
	}}
}

// Register overrides or adds a provider's client, primarily for tests.
func (r *Router) Register(provider string, client ports.LlmClient) {
	if r.clients == nil {
		r.clients = map[string]ports.LlmClient{}
	}
	r.clients[provider] = client
}

func (r *Router) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	client, ok := r.clients[opts.Provider]
	if !ok {
		return "", fmt.Errorf("llmclient: no adapter registered for provider %q", opts.Provider)
	}
	return client.Complete(ctx, opts, prompt)
}
