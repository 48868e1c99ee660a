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

// Package kernel implements the five task kernels that advance one Step
// through the flow runner's state machine: Decompose, DecompositionVote,
// Solve, SolutionVote and ApplyVerify. Each kernel is a (Context, step_id)
// -> NextAction transform; kernels mutate the Context in place (the runner
// holds single-writer discipline) and report what should happen next so
// the runner can drive queueing, pausing and checkpointing uniformly.
package kernel

import (
	"fmt"

	"github.com/tschacht/microfactory/internal/domain"
)

// NextAction tells the runner what follow-up work a kernel invocation
// produced.
type NextAction struct {
	// Enqueue lists WorkItems the runner should push after this
	// invocation (e.g. a DecompositionVote after Decompose, or the
	// per-child Decompose/Solve items after DecompositionVote).
	Enqueue []domain.WorkItem

	// Pause, when non-nil, asks the runner to suspend with this wait
	// state instead of enqueueing further work.
	Pause *domain.WaitState

	// MarginRecorded is the vote margin produced by this invocation, if
	// any, for the adaptive-k rolling window. -1 means none.
	MarginRecorded int
}

func noMargin() NextAction { return NextAction{MarginRecorded: -1} }

// stepOrErr fetches a step, returning a descriptive error if missing -
// every kernel starts this way since the runner only ever invokes a
// kernel for a step_id popped off its own queue.
func stepOrErr(ctx *domain.Context, stepID string) (*domain.Step, error) {
	step, ok := ctx.Steps[stepID]
	if !ok {
		return nil, fmt.Errorf("kernel: unknown step_id %q", stepID)
	}
	return step, nil
}
