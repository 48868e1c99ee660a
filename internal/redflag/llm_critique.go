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

package redflag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tschacht/microfactory/internal/ports"
)

// LlmCritiqueFlagger asks a second LLM call to critique a candidate and
// flags it when the critique response begins with one of the configured
// negative markers (case-insensitive prefix match against the trimmed
// response), e.g. "FLAG:" or "REJECT". The critique prompt is rendered
// through PromptRenderer so domains can customize the rubric without
// touching code.
type LlmCritiqueFlagger struct {
	Client          ports.LlmClient
	Renderer        ports.PromptRenderer
	TemplateName    string
	Options         ports.CompletionOptions
	NegativeMarkers []string
}

func NewLlmCritiqueFlagger(client ports.LlmClient, renderer ports.PromptRenderer, templateName string, opts ports.CompletionOptions, negativeMarkers []string) *LlmCritiqueFlagger {
	return &LlmCritiqueFlagger{
		Client:          client,
		Renderer:        renderer,
		TemplateName:    templateName,
		Options:         opts,
		NegativeMarkers: negativeMarkers,
	}
}

func (f *LlmCritiqueFlagger) Name() string { return "llm_critique" }

func (f *LlmCritiqueFlagger) Evaluate(ctx context.Context, candidate string) (FlagVerdict, error) {
	prompt, err := f.Renderer.Render(ctx, f.TemplateName, map[string]any{"candidate": candidate})
	if err != nil {
		return FlagVerdict{}, fmt.Errorf("llm_critique: render template %q: %w", f.TemplateName, err)
	}

	response, err := f.Client.Complete(ctx, f.Options, prompt)
	if err != nil {
		return FlagVerdict{}, fmt.Errorf("llm_critique: completion: %w", err)
	}

	trimmed := strings.TrimSpace(response)
	lower := strings.ToLower(trimmed)
	for _, marker := range f.NegativeMarkers {
		if marker == "" {
			continue
		}
		if strings.HasPrefix(lower, strings.ToLower(marker)) {
			return FlagVerdict{Flagged: true, Reason: fmt.Sprintf("critique matched marker %q: %s", marker, trimmed)}, nil
		}
	}
	return FlagVerdict{}, nil
}
