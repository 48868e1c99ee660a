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

import "github.com/tschacht/microfactory/internal/domain"

// Aggregate resolves a Decomposed step's final status once every child has
// reached a terminal state: any failed child fails the parent, otherwise
// the parent is done. It is a no-op (returns false) until all children are
// terminal, so the runner can call it eagerly after every child
// transition without tracking completion counts itself.
func Aggregate(wctx *domain.Context, stepID string) bool {
	step, ok := wctx.Steps[stepID]
	if !ok || step.Status != domain.StepDecomposed || len(step.ChildIDs) == 0 {
		return false
	}
	if !wctx.AllChildrenTerminal(step) {
		return false
	}
	if wctx.AnyChildFailed(step) {
		step.Status = domain.StepFailed
	} else {
		step.Status = domain.StepDone
	}
	return true
}
