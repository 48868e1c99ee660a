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

// Package runner drives the flow runner's main loop: popping work items,
// dispatching them to the matching task kernel, persisting a checkpoint
// after every invocation, aggregating decomposed parents once their
// children finish, and suspending the session when a pause trigger fires.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/kernel"
	"github.com/tschacht/microfactory/internal/ports"
)

// Kernel is the uniform shape every task kernel implements.
type Kernel interface {
	Run(ctx context.Context, wctx *domain.Context, stepID string) (kernel.NextAction, error)
}

// Checkpointer persists a Context snapshot after every step. Implemented
// by the composition root against a ports.SessionRepository.
type Checkpointer interface {
	Checkpoint(ctx context.Context, wctx *domain.Context) error
}

// Thresholds configures the runner's pause triggers (§4.7).
type Thresholds struct {
	LowMargin               int  // pause if a decisive vote's margin is at or below this
	ResampleBudgetPerStep   int  // pause if a step's cumulative resamples exceed this
	RedFlagIncidentsPerStep int  // pause if a step's cumulative red flags exceed this
	StepByStep              bool // pause after every single step, regardless of other triggers
}

// Runner executes the flow runner loop over one Context.
type Runner struct {
	Kernels      map[domain.Phase]Kernel
	Checkpointer Checkpointer
	Thresholds   Thresholds
	AdaptiveK    *AdaptiveK // optional; nil disables adaptive-k bookkeeping
	Telemetry    ports.TelemetrySink
}

func (r *Runner) emit(ctx context.Context, name string, fields map[string]any) {
	if r.Telemetry == nil {
		return
	}
	r.Telemetry.Record(ctx, ports.TelemetryEvent{Name: name, Fields: fields})
}

// Run drains wctx.Queue until it is empty (session complete) or a pause
// trigger suspends it (wctx.WaitState becomes non-nil). It returns nil in
// both cases; callers distinguish completion from pause by inspecting
// wctx.WaitState and whether any non-terminal steps remain.
func (r *Runner) Run(ctx context.Context, wctx *domain.Context) error {
	if wctx.WaitState != nil {
		return fmt.Errorf("runner: context %s is already suspended, call Resume first", wctx.SessionID)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, ok := wctx.PopWork()
		if !ok {
			return nil
		}

		k, ok := r.Kernels[item.Phase]
		if !ok {
			return fmt.Errorf("runner: no kernel registered for phase %q", item.Phase)
		}

		if r.AdaptiveK != nil {
			if track, sampling := samplingTrack(item.Phase); sampling {
				r.AdaptiveK.ResetForStep(track, item.StepID)
			}
		}

		action, err := k.Run(ctx, wctx, item.StepID)
		r.emit(ctx, "kernel_run", map[string]any{"phase": string(item.Phase)})
		if err != nil {
			r.emit(ctx, "kernel_error", map[string]any{"phase": string(item.Phase)})
			return fmt.Errorf("runner: step %s phase %s: %w", item.StepID, item.Phase, err)
		}

		for _, w := range action.Enqueue {
			wctx.PushWork(w)
		}

		if action.MarginRecorded >= 0 {
			r.emit(ctx, "vote_decided", map[string]any{"phase": string(item.Phase), "margin": float64(action.MarginRecorded)})
			if r.AdaptiveK != nil {
				r.AdaptiveK.Record(wctx, item.Phase, action.MarginRecorded)
				r.emit(ctx, "effective_k", map[string]any{"phase": string(item.Phase), "k": float64(r.AdaptiveK.Current(item.Phase))})
			}
		}

		propagateAggregation(wctx, item.StepID)

		if r.Checkpointer != nil {
			if err := r.Checkpointer.Checkpoint(ctx, wctx); err != nil {
				return fmt.Errorf("runner: checkpoint after step %s: %w", item.StepID, err)
			}
		}

		if pause := r.evaluatePause(wctx, item, action); pause != nil {
			wctx.WaitState = pause
			slog.Info("runner suspended", "session_id", wctx.SessionID, "step_id", item.StepID, "trigger", pause.Trigger)
			r.emit(ctx, "session_paused", map[string]any{"trigger": pause.Trigger})
			if r.Checkpointer != nil {
				if err := r.Checkpointer.Checkpoint(ctx, wctx); err != nil {
					return fmt.Errorf("runner: checkpoint on suspend: %w", err)
				}
			}
			return nil
		}
	}
}

// evaluatePause checks the four pause conditions in priority order:
// step-by-step, resample budget, red-flag threshold, low vote margin.
func (r *Runner) evaluatePause(wctx *domain.Context, item domain.WorkItem, action kernel.NextAction) *domain.WaitState {
	if action.Pause != nil {
		return action.Pause
	}
	if r.Thresholds.StepByStep {
		return &domain.WaitState{StepID: item.StepID, Trigger: domain.TriggerStepByStep}
	}
	step, ok := wctx.Steps[item.StepID]
	if ok {
		if r.Thresholds.ResampleBudgetPerStep > 0 && step.ResampleCount > r.Thresholds.ResampleBudgetPerStep {
			return &domain.WaitState{
				StepID:  item.StepID,
				Trigger: domain.TriggerResampleBudgetExceeded,
				Details: fmt.Sprintf("resamples=%d limit=%d", step.ResampleCount, r.Thresholds.ResampleBudgetPerStep),
			}
		}
		if r.Thresholds.RedFlagIncidentsPerStep > 0 && step.RedFlagIncidents > r.Thresholds.RedFlagIncidentsPerStep {
			return &domain.WaitState{
				StepID:  item.StepID,
				Trigger: domain.TriggerRedFlagThreshold,
				Details: fmt.Sprintf("red_flags=%d limit=%d", step.RedFlagIncidents, r.Thresholds.RedFlagIncidentsPerStep),
			}
		}
	}
	if r.Thresholds.LowMargin > 0 && action.MarginRecorded >= 0 && action.MarginRecorded <= r.Thresholds.LowMargin {
		return &domain.WaitState{
			StepID:  item.StepID,
			Trigger: domain.TriggerLowMargin,
			Details: fmt.Sprintf("margin=%d threshold=%d", action.MarginRecorded, r.Thresholds.LowMargin),
		}
	}
	return nil
}

// Resume clears a WaitState and continues the loop from where it paused.
// The work item that triggered the pause was already fully applied to the
// Context before suspending, so resuming is simply clearing the flag and
// re-entering Run.
func (r *Runner) Resume(ctx context.Context, wctx *domain.Context) error {
	if wctx.WaitState == nil {
		return fmt.Errorf("runner: context %s is not suspended", wctx.SessionID)
	}
	wctx.WaitState = nil
	return r.Run(ctx, wctx)
}

// samplingTrack maps a phase that draws fresh samples to the vote phase
// whose margin window it should reset, so a step's adaptive-k window does
// not carry a stale margin across a resample or resume of that same step.
func samplingTrack(phase domain.Phase) (domain.Phase, bool) {
	switch phase {
	case domain.PhaseDecompose:
		return domain.PhaseDecompositionVote, true
	case domain.PhaseSolve:
		return domain.PhaseSolutionVote, true
	default:
		return "", false
	}
}

// propagateAggregation walks up the parent chain from stepID, resolving
// every Decomposed ancestor whose children have all reached a terminal
// state, stopping at the first ancestor that is not yet resolvable.
func propagateAggregation(wctx *domain.Context, stepID string) {
	step, ok := wctx.Steps[stepID]
	if !ok {
		return
	}
	parentID := step.ParentID
	for parentID != "" {
		if !kernel.Aggregate(wctx, parentID) {
			return
		}
		parent := wctx.Steps[parentID]
		if parent == nil {
			return
		}
		parentID = parent.ParentID
	}
}
