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

// Package config loads and validates the YAML domain configuration that
// drives a Microfactory run, plus the .env-based API key resolution.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentKind names one of the four LLM-driven task-kernel roles a domain
// wires agents for. Verification and file application run as an external
// command and a write-mode enum respectively (DomainConfig.Verifier,
// DomainConfig.Applier) rather than as agents, so they have no AgentKind.
type AgentKind string

const (
	AgentDecomposer         AgentKind = "decomposer"
	AgentDecompositionVoter AgentKind = "decomposition_voter"
	AgentSolver             AgentKind = "solver"
	AgentSolutionVoter      AgentKind = "solution_voter"
)

// AgentProfile configures one agent kind's model and sampling parameters.
type AgentProfile struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	EnsembleSize   int     `yaml:"ensemble_size"`
	K              int     `yaml:"k"` // first-to-ahead-by-k margin; 0 means adaptive
	PromptTemplate string  `yaml:"prompt_template"`
}

// SetDefaults fills zero-valued fields with domain-reasonable defaults.
func (p *AgentProfile) SetDefaults() {
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = 2048
	}
	if p.EnsembleSize == 0 {
		p.EnsembleSize = 5
	}
}

// Validate reports a non-nil error if the profile cannot be used.
func (p *AgentProfile) Validate() error {
	if p.Provider == "" {
		return fmt.Errorf("agent profile: provider is required")
	}
	if p.Model == "" {
		return fmt.Errorf("agent profile: model is required")
	}
	if p.EnsembleSize < 1 {
		return fmt.Errorf("agent profile: ensemble_size must be >= 1, got %d", p.EnsembleSize)
	}
	return nil
}

// StepGranularity bounds how deep the decomposition tree may grow and how
// small a leaf step is allowed to be before the runner refuses to
// decompose further (the granularity gate, §4.7).
type StepGranularity struct {
	MaxDepth        int `yaml:"max_depth"`
	MinWordsPerLeaf int `yaml:"min_words_per_leaf"`
}

func (g *StepGranularity) SetDefaults() {
	if g.MaxDepth == 0 {
		g.MaxDepth = 6
	}
	if g.MinWordsPerLeaf == 0 {
		g.MinWordsPerLeaf = 8
	}
}

// RedFlaggerConfig configures one built-in red-flagger kind by name plus
// its kind-specific parameters, destined for mapstructure decoding.
type RedFlaggerConfig struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// DomainConfig wires one task domain (e.g. "code", "writing") end to end.
type DomainConfig struct {
	Agents              map[AgentKind]AgentProfile `yaml:"agents"`
	StepGranularity     StepGranularity            `yaml:"step_granularity"`
	Verifier            string                     `yaml:"verifier"`
	Applier             string                     `yaml:"applier"`
	RedFlaggers         []RedFlaggerConfig         `yaml:"red_flaggers"`
	MaxConcurrentLLM    int                        `yaml:"max_concurrent_llm"`
	SimilarityThreshold float64                    `yaml:"similarity_threshold"`
}

func (d *DomainConfig) SetDefaults() {
	d.StepGranularity.SetDefaults()
	if d.MaxConcurrentLLM == 0 {
		d.MaxConcurrentLLM = 4
	}
	if d.SimilarityThreshold == 0 {
		d.SimilarityThreshold = 0.85
	}
	for kind, profile := range d.Agents {
		profile.SetDefaults()
		d.Agents[kind] = profile
	}
}

func (d *DomainConfig) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("domain config: at least one agent profile is required")
	}
	for kind, profile := range d.Agents {
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("domain config: agent %q: %w", kind, err)
		}
	}
	if d.SimilarityThreshold < 0.85 {
		return fmt.Errorf("domain config: similarity_threshold must be >= 0.85 (tightening only), got %v", d.SimilarityThreshold)
	}
	return nil
}

// Config is the top-level YAML document: a named set of domains.
type Config struct {
	Domains map[string]DomainConfig `yaml:"domains"`
}

func (c *Config) SetDefaults() {
	for name, d := range c.Domains {
		d.SetDefaults()
		c.Domains[name] = d
	}
}

func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("config: at least one domain is required")
	}
	for name, d := range c.Domains {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("config: domain %q: %w", name, err)
		}
	}
	return nil
}

// Load reads and parses a YAML config file from path, applying defaults
// and validating the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}
