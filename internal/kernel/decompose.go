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

package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/sampler"
)

// DecomposeKernel samples an ensemble of candidate decompositions for a
// step and hands them to the voting phase.
type DecomposeKernel struct {
	Sampler      *sampler.Sampler
	Renderer     ports.PromptRenderer
	TemplateName string
	Options      ports.CompletionOptions
	SampleConfig sampler.Config
}

// Run renders the decomposition prompt, samples an ensemble, and either
// advances the step to AwaitingDecompositionVote or fails it if the
// resample budget was exhausted with zero accepted candidates.
func (k *DecomposeKernel) Run(ctx context.Context, wctx *domain.Context, stepID string) (NextAction, error) {
	step, err := stepOrErr(wctx, stepID)
	if err != nil {
		return NextAction{}, err
	}

	prompt, err := k.Renderer.Render(ctx, k.TemplateName, map[string]any{
		"description": step.Description,
		"depth":       step.Depth,
	})
	if err != nil {
		return NextAction{}, fmt.Errorf("decompose %s: render prompt: %w", stepID, err)
	}

	step.Status = domain.StepDecomposing
	res, err := k.Sampler.Sample(ctx, k.Options, prompt, k.SampleConfig)
	if err != nil {
		return NextAction{}, fmt.Errorf("decompose %s: sample: %w", stepID, err)
	}

	step.RedFlagIncidents += len(res.Rejected)
	step.ResampleCount += res.Resamples
	wctx.Metrics.Samples += res.Samples
	wctx.Metrics.Resamples += res.Resamples
	wctx.Metrics.RedFlags += len(res.Rejected)

	for _, c := range res.Rejected {
		wctx.AppendHistory(stepID, domain.PhaseDecompose, c, time.Now())
	}

	if len(res.Accepted) == 0 {
		step.Status = domain.StepFailed
		return NextAction{Pause: nil, MarginRecorded: -1}, nil
	}

	step.Candidates = res.Accepted
	step.Status = domain.StepAwaitingDecompositionVote
	return NextAction{
		Enqueue:        []domain.WorkItem{{StepID: stepID, Phase: domain.PhaseDecompositionVote}},
		MarginRecorded: -1,
	}, nil
}
