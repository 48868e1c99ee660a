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

package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/redflag"
)

// lengthParams, syntaxParams and decompositionParams are decoded from
// RedFlaggerConfig.Params via mapstructure, the same decoding library the
// teacher pulls in for its own config-shape coercion.
type lengthParams struct {
	MinTokens int    `mapstructure:"min_tokens"`
	MaxTokens int    `mapstructure:"max_tokens"`
	CountMode string `mapstructure:"count_mode"`
	Encoding  string `mapstructure:"encoding"`
}

type syntaxParams struct {
	ExtractXML bool `mapstructure:"extract_xml"`
}

type decompositionParams struct {
	MinChildren int `mapstructure:"min_children"`
	MaxChildren int `mapstructure:"max_children"`
}

type critiqueParams struct {
	TemplateName    string   `mapstructure:"template"`
	NegativeMarkers []string `mapstructure:"negative_markers"`
}

// CritiqueDeps supplies the ports the llm_critique flagger needs, which
// cannot be constructed from YAML alone.
type CritiqueDeps struct {
	Client   ports.LlmClient
	Renderer ports.PromptRenderer
	Options  ports.CompletionOptions
}

// BuildFlagger constructs the redflag.Flagger named by cfg.Kind. The
// llm_critique kind requires deps.Client/Renderer to be non-nil.
func BuildFlagger(cfg RedFlaggerConfig, deps CritiqueDeps) (redflag.Flagger, error) {
	switch cfg.Kind {
	case "length":
		var p lengthParams
		if err := decode(cfg.Params, &p); err != nil {
			return nil, fmt.Errorf("red-flagger %q: %w", cfg.Kind, err)
		}
		mode := redflag.CountMode(p.CountMode)
		return redflag.NewLengthFlagger(p.MinTokens, p.MaxTokens, mode, p.Encoding), nil

	case "syntax":
		var p syntaxParams
		if err := decode(cfg.Params, &p); err != nil {
			return nil, fmt.Errorf("red-flagger %q: %w", cfg.Kind, err)
		}
		return redflag.NewSyntaxFlagger(p.ExtractXML), nil

	case "decomposition_format":
		var p decompositionParams
		if err := decode(cfg.Params, &p); err != nil {
			return nil, fmt.Errorf("red-flagger %q: %w", cfg.Kind, err)
		}
		return redflag.NewDecompositionFormatFlagger(p.MinChildren, p.MaxChildren), nil

	case "llm_critique":
		var p critiqueParams
		if err := decode(cfg.Params, &p); err != nil {
			return nil, fmt.Errorf("red-flagger %q: %w", cfg.Kind, err)
		}
		if deps.Client == nil || deps.Renderer == nil {
			return nil, fmt.Errorf("red-flagger %q: llm client and prompt renderer are required", cfg.Kind)
		}
		return redflag.NewLlmCritiqueFlagger(deps.Client, deps.Renderer, p.TemplateName, deps.Options, p.NegativeMarkers), nil

	default:
		return nil, fmt.Errorf("unknown red-flagger kind %q", cfg.Kind)
	}
}

// BuildPipeline constructs an ordered pipeline from a domain's configured
// red-flaggers, in the order they appear in YAML.
func BuildPipeline(cfgs []RedFlaggerConfig, deps CritiqueDeps) (*redflag.Pipeline, error) {
	flaggers := make([]redflag.Flagger, 0, len(cfgs))
	for _, c := range cfgs {
		f, err := BuildFlagger(c, deps)
		if err != nil {
			return nil, err
		}
		flaggers = append(flaggers, f)
	}
	return redflag.NewPipeline(flaggers...), nil
}

func decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
