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

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/tschacht/microfactory/internal/composition"
	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sessionstore"
)

// llmOverrides carries the CLI flags `run`/`resume` both accept for
// overriding a domain's agent profiles without editing the config file.
type llmOverrides struct {
	Provider         string
	Model            string
	APIKey           string
	Samples          int
	K                int
	AdaptiveK        bool
	MaxConcurrentLLM int
}

func (o llmOverrides) apply(d config.DomainConfig) config.DomainConfig {
	for kind, profile := range d.Agents {
		if o.Provider != "" {
			profile.Provider = o.Provider
		}
		if o.Model != "" {
			profile.Model = o.Model
		}
		if o.Samples > 0 {
			profile.EnsembleSize = o.Samples
		}
		if o.K > 0 {
			profile.K = o.K
		}
		if o.AdaptiveK {
			profile.K = 0 // 0 means adaptive, per AgentProfile.K's doc comment
		}
		d.Agents[kind] = profile
	}
	if o.MaxConcurrentLLM > 0 {
		d.MaxConcurrentLLM = o.MaxConcurrentLLM
	}
	return d
}

// loadDomain loads cfg (or errors if configPath is empty - this build has
// no zero-config mode, since a domain's agent/prompt wiring has no sane
// default) and returns the named domain with overrides applied.
func loadDomain(configPath, domainName string, overrides llmOverrides) (*config.Config, config.DomainConfig, error) {
	if configPath == "" {
		return nil, config.DomainConfig{}, fmt.Errorf("--config is required (no domain can run without agent/prompt wiring)")
	}
	config.LoadDotEnvForConfig(configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.DomainConfig{}, err
	}
	domainCfg, ok := cfg.Domains[domainName]
	if !ok {
		return nil, config.DomainConfig{}, fmt.Errorf("domain %q not found in %s", domainName, configPath)
	}
	domainCfg = overrides.apply(domainCfg)
	if overrides.APIKey != "" {
		// Builder.options resolves keys via config.ResolveAPIKey, which only
		// consults the flag value at the call site it doesn't have; exporting
		// into the provider's env var lets every agent profile pick it up the
		// normal way regardless of which provider(s) it ends up using.
		for _, profile := range domainCfg.Agents {
			if envVar := config.ProviderEnvVar(profile.Provider); envVar != "" {
				os.Setenv(envVar, overrides.APIKey)
			}
		}
	}
	if err := domainCfg.Validate(); err != nil {
		return nil, config.DomainConfig{}, err
	}
	cfg.Domains[domainName] = domainCfg
	return cfg, domainCfg, nil
}

// buildService wires a composition.Service against an already-open store,
// backed by promptDir and workspaceRoot, for commands that need to drive
// or resume a session.
func buildService(cfg *config.Config, store *sessionstore.Store, promptDir, workspaceRoot string, telemetry ports.TelemetrySink, thresholds runner.Thresholds) *composition.Service {
	checkpointer := sessionstore.NewCheckpointer(store)
	builder := composition.NewBuilder(http.DefaultClient, promptDir, workspaceRoot, telemetry, checkpointer)
	return composition.NewService(cfg, builder, checkpointer, thresholds)
}
