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

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/vote"
)

// SolutionVoteKernel runs first-to-ahead-by-k voting over solution
// candidates and hands the winner to ApplyVerify.
type SolutionVoteKernel struct {
	Engine *vote.Engine
}

func (k *SolutionVoteKernel) Run(ctx context.Context, wctx *domain.Context, stepID string) (NextAction, error) {
	step, err := stepOrErr(wctx, stepID)
	if err != nil {
		return NextAction{}, err
	}
	if len(step.Candidates) == 0 {
		return NextAction{}, fmt.Errorf("solution vote %s: no candidates to vote on", stepID)
	}

	texts := make([]string, len(step.Candidates))
	for i, c := range step.Candidates {
		texts[i] = c.Text
	}
	result := k.Engine.Vote(texts)
	wctx.Metrics.VoteMargins = append(wctx.Metrics.VoteMargins, result.Margin)

	step.WinningOutput = result.Winner
	step.Status = domain.StepApplying
	return NextAction{
		Enqueue:        []domain.WorkItem{{StepID: stepID, Phase: domain.PhaseApplyVerify}},
		MarginRecorded: result.Margin,
	}, nil
}
