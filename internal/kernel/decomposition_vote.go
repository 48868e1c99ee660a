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
	"strings"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/redflag"
	"github.com/tschacht/microfactory/internal/vote"
)

// Granularity gates whether a freshly created child step is decomposed
// again or handed straight to the solver.
type Granularity struct {
	MaxDepth        int
	MinWordsPerLeaf int
}

// IsLeaf reports whether a step at the given depth/description should stop
// decomposing.
func (g Granularity) IsLeaf(depth int, description string) bool {
	if g.MaxDepth > 0 && depth >= g.MaxDepth {
		return true
	}
	if g.MinWordsPerLeaf > 0 && len(strings.Fields(description)) <= g.MinWordsPerLeaf {
		return true
	}
	return false
}

// DecompositionVoteKernel runs first-to-ahead-by-k voting over the
// decomposition candidates sampled for a step, parses the winner into
// child steps, and applies the granularity gate to each child.
type DecompositionVoteKernel struct {
	Engine      *vote.Engine
	Granularity Granularity
}

func (k *DecompositionVoteKernel) Run(ctx context.Context, wctx *domain.Context, stepID string) (NextAction, error) {
	step, err := stepOrErr(wctx, stepID)
	if err != nil {
		return NextAction{}, err
	}
	if len(step.Candidates) == 0 {
		return NextAction{}, fmt.Errorf("decomposition vote %s: no candidates to vote on", stepID)
	}

	texts := make([]string, len(step.Candidates))
	for i, c := range step.Candidates {
		texts[i] = c.Text
	}
	result := k.Engine.Vote(texts)
	wctx.Metrics.VoteMargins = append(wctx.Metrics.VoteMargins, result.Margin)

	children := redflag.ParseDecomposition(result.Winner)
	if len(children) == 0 {
		step.Status = domain.StepFailed
		return NextAction{MarginRecorded: result.Margin}, nil
	}

	var enqueue []domain.WorkItem
	for _, desc := range children {
		childID := domain.NewStepID()
		child := wctx.AddChild(stepID, childID, desc)
		if k.Granularity.IsLeaf(child.Depth, child.Description) {
			enqueue = append(enqueue, domain.WorkItem{StepID: childID, Phase: domain.PhaseSolve})
		} else {
			enqueue = append(enqueue, domain.WorkItem{StepID: childID, Phase: domain.PhaseDecompose})
		}
	}

	step.WinningOutput = result.Winner
	step.Status = domain.StepDecomposed
	return NextAction{Enqueue: enqueue, MarginRecorded: result.Margin}, nil
}
