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
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sessionstore"
	"github.com/tschacht/microfactory/internal/telemetry"
)

// verificationFailedError marks a session that ran to completion but whose
// root step ended Failed (red flags exhausted every candidate, or the
// verifier rejected the final apply) - exit code 3, not a CLI misuse.
type verificationFailedError struct {
	sessionID string
}

func (e *verificationFailedError) Error() string {
	return fmt.Sprintf("session %s finished with unresolved verification failures", e.sessionID)
}

func isVerificationFailure(err error) bool {
	_, ok := err.(*verificationFailedError)
	return ok
}

// RunCmd drives a fresh session for --prompt against --domain to
// completion or its first pause trigger.
type RunCmd struct {
	Prompt                  string  `required:"" help:"The task prompt to decompose and solve."`
	Domain                  string  `required:"" help:"Domain name to run (must exist in --config)."`
	LlmProvider             string  `name:"llm-provider" help:"Override every agent's provider (openai, anthropic, gemini, grok)."`
	LlmModel                string  `name:"llm-model" help:"Override every agent's model."`
	APIKey                  string  `name:"api-key" help:"Override the resolved API key."`
	Samples                 int     `help:"Override every agent's ensemble size."`
	K                       int     `help:"Override every agent's fixed vote margin."`
	AdaptiveK               bool    `name:"adaptive-k" help:"Use the rolling-window adaptive margin instead of a fixed k."`
	MaxConcurrentLLM        int     `name:"max-concurrent-llm" help:"Override the domain's concurrent LLM call budget."`
	RepoPath                string  `name:"repo-path" help:"Workspace root the apply step writes files under." type:"path" default:"."`
	DryRun                  bool    `name:"dry-run" help:"Validate config and domain wiring, then exit without running."`
	StepByStep              bool    `name:"step-by-step" help:"Pause after every step for manual inspection/resume."`
	HumanLowMarginThreshold int     `name:"human-low-margin-threshold" help:"Pause when a decisive vote's margin is at or below this." default:"1"`
	OutputDir               string  `name:"output-dir" help:"Directory for prompt templates and the session log." type:"path"`
	Inspect                 string  `help:"Detail level for the final status dump (ops, payloads, messages, files)." enum:"ops,payloads,messages,files" default:"ops"`
	LogJSON                 bool    `name:"log-json" help:"Print the final status as JSON instead of a human summary."`
	Pretty                  bool    `help:"Pretty-print --log-json output."`
	Compact                 bool    `help:"Force compact --log-json output (overrides --pretty)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	overrides := llmOverrides{
		Provider:         c.LlmProvider,
		Model:            c.LlmModel,
		APIKey:           c.APIKey,
		Samples:          c.Samples,
		K:                c.K,
		AdaptiveK:        c.AdaptiveK,
		MaxConcurrentLLM: c.MaxConcurrentLLM,
	}
	cfg, _, err := loadDomain(cli.Config, c.Domain, overrides)
	if err != nil {
		return err
	}
	if c.DryRun {
		fmt.Printf("config OK: domain %q validated against %s\n", c.Domain, cli.Config)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promptDir := c.OutputDir
	if promptDir == "" {
		promptDir = config.Home()
	}
	telemetryMetrics := telemetry.NewMetrics()
	thresholds := runner.Thresholds{
		StepByStep: c.StepByStep,
		LowMargin:  c.HumanLowMarginThreshold,
	}

	store, err := sessionstore.Open(sessionstore.DialectSQLite, config.SessionsDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	svc := buildService(cfg, store, promptDir, c.RepoPath, telemetryMetrics, thresholds)

	wctx, err := svc.Start(ctx, c.Domain, c.Prompt, c.LlmProvider, c.LlmModel)
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

func reportOutcome(wctx *domain.Context, asJSON, pretty bool) error {
	if asJSON {
		exp := sessionstore.ExportContext(wctx)
		var (
			out []byte
			err error
		)
		if pretty {
			out, err = json.MarshalIndent(exp, "", "  ")
		} else {
			out, err = json.Marshal(exp)
		}
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		root := wctx.Steps["root"]
		status := "running"
		if root != nil {
			status = string(root.Status)
		}
		if wctx.WaitState != nil {
			status = "paused:" + wctx.WaitState.Trigger
		}
		fmt.Printf("session %s: %s (samples=%d resamples=%d red_flags=%d)\n",
			wctx.SessionID, status, wctx.Metrics.Samples, wctx.Metrics.Resamples, wctx.Metrics.RedFlags)
	}

	if wctx.WaitState == nil {
		if root := wctx.Steps["root"]; root != nil && root.Status == domain.StepFailed {
			return &verificationFailedError{sessionID: wctx.SessionID}
		}
	}
	return nil
}
