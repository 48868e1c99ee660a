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

package runner

import "github.com/tschacht/microfactory/internal/domain"

// AdaptiveK recomputes the voting margin k per agent kind from a rolling
// window of recent vote margins, resetting the window whenever a new step
// begins sampling that kind (the per-step reset policy). The computed
// value is exposed to callers via Current and recorded into
// Context.Metrics.EffectiveK for auditability, but AdaptiveK itself never
// mutates a vote.Engine - the caller (composition root) re-reads Current
// before constructing each step's voting kernel.
type AdaptiveK struct {
	MinK   int
	MaxK   int
	Window int // number of recent margins considered; default 5

	windows  map[domain.Phase][]int
	lastStep map[domain.Phase]string
}

// Record folds a newly observed vote margin into the rolling window for
// phase. Callers reset the window explicitly via ResetForStep when a step
// begins sampling again (e.g. after Resume), so a retried step's stale
// margin cannot double-count alongside its fresh one.
func (a *AdaptiveK) Record(wctx *domain.Context, phase domain.Phase, margin int) {
	if a.windows == nil {
		a.windows = map[domain.Phase][]int{}
		a.lastStep = map[domain.Phase]string{}
	}
	window := a.Window
	if window <= 0 {
		window = 5
	}
	a.windows[phase] = append(a.windows[phase], margin)
	if len(a.windows[phase]) > window {
		a.windows[phase] = a.windows[phase][len(a.windows[phase])-window:]
	}

	k := a.current(phase)
	if wctx.Metrics.EffectiveK == nil {
		wctx.Metrics.EffectiveK = map[string]int{}
	}
	wctx.Metrics.EffectiveK[string(phase)] = k
}

// ResetForStep clears the rolling window for phase when a new step begins
// sampling it, per the per-step reset policy.
func (a *AdaptiveK) ResetForStep(phase domain.Phase, stepID string) {
	if a.windows == nil {
		a.windows = map[domain.Phase][]int{}
		a.lastStep = map[domain.Phase]string{}
	}
	if a.lastStep[phase] != stepID {
		a.windows[phase] = nil
		a.lastStep[phase] = stepID
	}
}

// Current returns the recommended k for phase given its rolling window: the
// average recent margin plus one, clamped to [MinK, MaxK].
func (a *AdaptiveK) Current(phase domain.Phase) int {
	return a.current(phase)
}

func (a *AdaptiveK) current(phase domain.Phase) int {
	minK := a.MinK
	if minK <= 0 {
		minK = 1
	}
	maxK := a.MaxK
	if maxK <= 0 {
		maxK = minK + 4
	}

	margins := a.windows[phase]
	if len(margins) == 0 {
		return minK
	}
	sum := 0
	for _, m := range margins {
		sum += m
	}
	avg := sum / len(margins)
	k := avg + 1
	if k < minK {
		k = minK
	}
	if k > maxK {
		k = maxK
	}
	return k
}
