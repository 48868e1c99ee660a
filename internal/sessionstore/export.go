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

package sessionstore

import (
	"encoding/json"
	"fmt"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/ports"
)

// Export is the stable session JSON shape consumed by `status --json` and
// the HTTP surface's GET /sessions/{id}. Its field names and status enum
// ("running"|"paused"|"completed"|"failed") are fixed externally and are
// independent of the internal Step/WaitState vocabulary.
type Export struct {
	SessionID string          `json:"session_id"`
	Status    string          `json:"status"`
	Domain    string          `json:"domain"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	WaitState *ExportWait     `json:"wait_state,omitempty"`
	Metrics   ExportMetrics   `json:"metrics"`
	Steps     []ExportStep    `json:"steps"`
}

type ExportWait struct {
	StepID  string `json:"step_id"`
	Trigger string `json:"trigger"`
	Details string `json:"details"`
}

type ExportMetrics struct {
	Samples       int     `json:"samples"`
	Resamples     int     `json:"resamples"`
	RedFlags      int     `json:"red_flags"`
	VoteMarginAvg float64 `json:"vote_margin_avg"`
	DurationMs    int64   `json:"duration_ms"`
	EffectiveK    map[string]int `json:"effective_k,omitempty"`
}

type ExportStep struct {
	StepID        string             `json:"step_id"`
	ParentID      string             `json:"parent_id,omitempty"`
	Depth         int                `json:"depth"`
	Status        string             `json:"status"`
	Description   string             `json:"description"`
	Candidates    []domain.Candidate `json:"candidates"`
	WinningOutput string             `json:"winning_output,omitempty"`
	ChildIDs      []string           `json:"child_ids"`
}

// ExportContext converts a live Context to its stable JSON export shape.
func ExportContext(wctx *domain.Context) Export {
	exp := Export{
		SessionID: wctx.SessionID,
		Status:    exportStatus(wctx),
		Domain:    wctx.Domain,
		Provider:  wctx.Provider,
		Model:     wctx.Model,
		Metrics: ExportMetrics{
			Samples:       wctx.Metrics.Samples,
			Resamples:     wctx.Metrics.Resamples,
			RedFlags:      wctx.Metrics.RedFlags,
			VoteMarginAvg: wctx.Metrics.VoteMarginAvg(),
			DurationMs:    wctx.Metrics.DurationMs,
			EffectiveK:    wctx.Metrics.EffectiveK,
		},
		Steps: make([]ExportStep, 0, len(wctx.Steps)),
	}
	if wctx.WaitState != nil {
		exp.WaitState = &ExportWait{
			StepID:  wctx.WaitState.StepID,
			Trigger: wctx.WaitState.Trigger,
			Details: wctx.WaitState.Details,
		}
	}
	for _, step := range wctx.Steps {
		candidates := step.Candidates
		if candidates == nil {
			candidates = []domain.Candidate{}
		}
		childIDs := step.ChildIDs
		if childIDs == nil {
			childIDs = []string{}
		}
		exp.Steps = append(exp.Steps, ExportStep{
			StepID:        step.StepID,
			ParentID:      step.ParentID,
			Depth:         step.Depth,
			Status:        string(step.Status),
			Description:   step.Description,
			Candidates:    candidates,
			WinningOutput: step.WinningOutput,
			ChildIDs:      childIDs,
		})
	}
	return exp
}

// ExportSnapshot unmarshals a stored snapshot's payload and converts it to
// the stable export shape, without needing a live *domain.Context.
func ExportSnapshot(snap ports.SessionSnapshot) (Export, error) {
	var wctx domain.Context
	if err := json.Unmarshal(snap.Payload, &wctx); err != nil {
		return Export{}, fmt.Errorf("sessionstore: unmarshal snapshot %s: %w", snap.ID, err)
	}
	return ExportContext(&wctx), nil
}

// exportStatus maps a Context's internal lifecycle state to the external
// running/paused/completed/failed vocabulary.
func exportStatus(wctx *domain.Context) string {
	if wctx.WaitState != nil {
		return "paused"
	}
	for _, step := range wctx.Steps {
		if step.Depth != 0 {
			continue
		}
		switch step.Status {
		case domain.StepDone:
			return "completed"
		case domain.StepFailed:
			return "failed"
		}
	}
	return "running"
}
