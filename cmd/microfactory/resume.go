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
	"context"
	"os/signal"
	"syscall"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sessionstore"
	"github.com/tschacht/microfactory/internal/telemetry"
)

// ResumeCmd continues a suspended session, accepting the same LLM override
// flags as `run` so an operator can switch providers/models mid-session.
type ResumeCmd struct {
	SessionID        string `name:"session-id" required:"" help:"Session to resume."`
	LlmProvider      string `name:"llm-provider" help:"Override every agent's provider."`
	LlmModel         string `name:"llm-model" help:"Override every agent's model."`
	APIKey           string `name:"api-key" help:"Override the resolved API key."`
	Samples          int    `help:"Override every agent's ensemble size."`
	K                int    `help:"Override every agent's fixed vote margin."`
	AdaptiveK        bool   `name:"adaptive-k" help:"Use the rolling-window adaptive margin instead of a fixed k."`
	MaxConcurrentLLM int    `name:"max-concurrent-llm" help:"Override the domain's concurrent LLM call budget."`
	RepoPath         string `name:"repo-path" help:"Workspace root the apply step writes files under." type:"path" default:"."`
	StepByStep       bool   `name:"step-by-step" help:"Pause after every step for manual inspection/resume."`
	LogJSON          bool   `name:"log-json" help:"Print the final status as JSON instead of a human summary."`
	Pretty           bool   `help:"Pretty-print --log-json output."`
	Compact          bool   `help:"Force compact --log-json output (overrides --pretty)."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	store, err := sessionstore.Open(sessionstore.DialectSQLite, config.SessionsDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(context.Background(), c.SessionID)
	if err != nil {
		return err
	}

	overrides := llmOverrides{
		Provider:         c.LlmProvider,
		Model:            c.LlmModel,
		APIKey:           c.APIKey,
		Samples:          c.Samples,
		K:                c.K,
		AdaptiveK:        c.AdaptiveK,
		MaxConcurrentLLM: c.MaxConcurrentLLM,
	}
	cfg, _, err := loadDomain(cli.Config, snap.Domain, overrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryMetrics := telemetry.NewMetrics()
	thresholds := runner.Thresholds{StepByStep: c.StepByStep}

	svc := buildService(cfg, store, config.Home(), c.RepoPath, telemetryMetrics, thresholds)

	if err := svc.Resume(ctx, c.SessionID); err != nil {
		return err
	}

	wctx, err := sessionstore.NewCheckpointer(store).LoadContext(ctx, c.SessionID)
	if err != nil {
		return err
	}
	if c.StepByStep {
		wctx, err = driveInteractively(ctx, svc, wctx)
		if err != nil {
			return err
		}
	}
	return reportOutcome(wctx, c.LogJSON, c.Pretty && !c.Compact)
}
