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
	"net/http"

	"github.com/tschacht/microfactory/internal/composition"
	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/runner"
)

// subprocessContext is the minimal information --context-json carries: the
// domain whose solver/solution-voter profiles to use, and free-form extra
// text folded into the step description for additional grounding (e.g. a
// parent step's summary) since the solve prompt template only ever
// receives {description, depth}.
type subprocessContext struct {
	Domain string `json:"domain"`
	Extra  string `json:"extra"`
}

// SubprocessCmd solves a single step in isolation - Solve then
// SolutionVote, no decomposition and no persistence - for callers that
// want one MDAP leaf evaluated out of process.
type SubprocessCmd struct {
	Step        string `required:"" help:"The step description to solve."`
	ContextJSON string `name:"context-json" required:"" help:"JSON object naming the domain and any extra grounding text."`
	Samples     int    `help:"Override the solver's ensemble size."`
}

type subprocessResult struct {
	Winner string         `json:"winner"`
	Margin int            `json:"margin"`
	Tally  map[string]int `json:"tally"`
}

func (c *SubprocessCmd) Run(cli *CLI) error {
	var sc subprocessContext
	if err := json.Unmarshal([]byte(c.ContextJSON), &sc); err != nil {
		return fmt.Errorf("subprocess: parse --context-json: %w", err)
	}
	if sc.Domain == "" {
		return fmt.Errorf("subprocess: --context-json must include a \"domain\" field")
	}

	overrides := llmOverrides{Samples: c.Samples}
	_, domainCfg, err := loadDomain(cli.Config, sc.Domain, overrides)
	if err != nil {
		return err
	}

	builder := composition.NewBuilder(http.DefaultClient, config.Home(), ".", nil, nil)
	// No checkpointer and no Runner.Run loop - subprocess mode calls the
	// Solve and SolutionVote kernels directly, so thresholds never apply.
	r, err := builder.BuildRunner(domainCfg, runner.Thresholds{})
	if err != nil {
		return err
	}

	description := c.Step
	if sc.Extra != "" {
		description = c.Step + "\n\n" + sc.Extra
	}

	const stepID = "subprocess"
	wctx := &domain.Context{
		SessionID: "subprocess",
		Domain:    sc.Domain,
		Steps: map[string]*domain.Step{
			stepID: {StepID: stepID, Description: description, Status: domain.StepPending},
		},
		Metrics: domain.Metrics{EffectiveK: map[string]int{}, MarginHistory: map[string][]int{}},
	}

	ctx := context.Background()
	if _, err := r.Kernels[domain.PhaseSolve].Run(ctx, wctx, stepID); err != nil {
		return fmt.Errorf("subprocess: solve: %w", err)
	}
	action, err := r.Kernels[domain.PhaseSolutionVote].Run(ctx, wctx, stepID)
	if err != nil {
		return fmt.Errorf("subprocess: vote: %w", err)
	}

	step := wctx.Steps[stepID]
	tally := map[string]int{}
	for _, cand := range step.Candidates {
		if cand.Accepted {
			tally[cand.Text]++
		}
	}

	out, err := json.Marshal(subprocessResult{Winner: step.WinningOutput, Margin: action.MarginRecorded, Tally: tally})
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

