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

// Package domain holds the single shared workflow state (Context) mutated
// exclusively by the flow runner, along with the Step tree, work queue and
// metrics it owns. The step tree is stored as a flat map keyed by step_id
// with parent_id back-edges rather than owning child pointers, which keeps
// the whole Context easy to serialize and avoids cyclic references.
package domain

import "time"

// StepStatus is the execution status of a single Step.
type StepStatus string

const (
	StepPending                   StepStatus = "Pending"
	StepDecomposing               StepStatus = "Decomposing"
	StepAwaitingDecompositionVote StepStatus = "AwaitingDecompositionVote"
	StepDecomposed                StepStatus = "Decomposed"
	StepSolving                   StepStatus = "Solving"
	StepAwaitingSolutionVote      StepStatus = "AwaitingSolutionVote"
	StepApplying                  StepStatus = "Applying"
	StepVerifying                 StepStatus = "Verifying"
	StepDone                      StepStatus = "Done"
	StepFailed                    StepStatus = "Failed"
)

// IsTerminal reports whether status is a terminal state.
func (s StepStatus) IsTerminal() bool {
	return s == StepDone || s == StepFailed
}

// Phase identifies which task kernel should run next for a WorkItem.
type Phase string

const (
	PhaseDecompose         Phase = "Decompose"
	PhaseDecompositionVote Phase = "DecompositionVote"
	PhaseSolve             Phase = "Solve"
	PhaseSolutionVote      Phase = "SolutionVote"
	PhaseApplyVerify       Phase = "ApplyVerify"
)

// Candidate is one sampled output annotated with its red-flag verdict.
type Candidate struct {
	Text     string `json:"text"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Step is one node of the decomposition tree.
type Step struct {
	StepID         string      `json:"step_id"`
	ParentID       string      `json:"parent_id,omitempty"`
	Depth          int         `json:"depth"`
	Description    string      `json:"description"`
	Status         StepStatus  `json:"status"`
	Candidates     []Candidate `json:"candidates,omitempty"`
	WinningOutput  string      `json:"winning_output,omitempty"`
	ChildIDs       []string    `json:"child_ids,omitempty"`
	VerifierOutput string      `json:"verifier_output,omitempty"`

	// Per-step working counters consulted by the pause-trigger policy.
	RedFlagIncidents int `json:"red_flag_incidents"`
	ResampleCount    int `json:"resample_count"`
}

// WorkItem is one unit of pending work on the queue.
type WorkItem struct {
	StepID string `json:"step_id"`
	Phase  Phase  `json:"phase"`
}

// WaitState, when non-nil on a Context, means the runner is suspended.
type WaitState struct {
	StepID  string `json:"step_id"`
	Trigger string `json:"trigger"`
	Details string `json:"details"`
}

// Pause trigger names, used verbatim in WaitState.Trigger and in the
// session JSON export schema.
const (
	TriggerLowMargin              = "LowMargin"
	TriggerResampleBudgetExceeded = "ResampleBudgetExceeded"
	TriggerRedFlagThreshold       = "RedFlagThreshold"
	TriggerStepByStep             = "StepByStep"
)

// Metrics accumulates aggregate and per-agent-kind counters for a session.
type Metrics struct {
	Samples       int              `json:"samples"`
	Resamples     int              `json:"resamples"`
	RedFlags      int              `json:"red_flags"`
	VoteMargins   []int            `json:"vote_margins,omitempty"`
	EffectiveK    map[string]int   `json:"effective_k,omitempty"`
	MarginHistory map[string][]int `json:"-"` // rolling windows, not persisted verbatim in JSON export
	StartedAtMs   int64            `json:"-"`
	DurationMs    int64            `json:"duration_ms"`
}

// VoteMarginAvg returns the mean of all recorded vote margins, or 0.
func (m *Metrics) VoteMarginAvg() float64 {
	if len(m.VoteMargins) == 0 {
		return 0
	}
	sum := 0
	for _, v := range m.VoteMargins {
		sum += v
	}
	return float64(sum) / float64(len(m.VoteMargins))
}

// HistoryEntry is one bounded record of a materialized candidate kept for
// inspection (§3 "history").
type HistoryEntry struct {
	StepID    string    `json:"step_id"`
	Phase     Phase     `json:"phase"`
	Candidate Candidate `json:"candidate"`
	At        time.Time `json:"at"`
}

// historyLimit bounds the size of Context.History.
const historyLimit = 500

// Context is the entire serializable state of one running session.
// All mutation happens through its methods under the runner's
// single-writer discipline (§5); there is no internal locking because the
// runner is a single-threaded cooperative loop.
type Context struct {
	SessionID   string           `json:"session_id"`
	Prompt      string           `json:"prompt"`
	Domain      string           `json:"domain"`
	Provider    string           `json:"provider"`
	Model       string           `json:"model"`
	Steps       map[string]*Step `json:"steps"`
	Queue       []WorkItem       `json:"queue"`
	Metrics     Metrics          `json:"metrics"`
	WaitState   *WaitState       `json:"wait_state,omitempty"`
	History     []HistoryEntry   `json:"history,omitempty"`
	CreatedAtMs int64            `json:"created_at_ms"`
}

// NewContext creates a fresh session Context with a root step enqueued for
// Decompose, per §3's lifecycle ("Context created by run").
func NewContext(sessionID, prompt, domain, provider, model, rootStepID string, nowMs int64) *Context {
	root := &Step{
		StepID:      rootStepID,
		Depth:       0,
		Description: prompt,
		Status:      StepPending,
	}
	return &Context{
		SessionID:   sessionID,
		Prompt:      prompt,
		Domain:      domain,
		Provider:    provider,
		Model:       model,
		Steps:       map[string]*Step{rootStepID: root},
		Queue:       []WorkItem{{StepID: rootStepID, Phase: PhaseDecompose}},
		Metrics:     Metrics{EffectiveK: map[string]int{}, MarginHistory: map[string][]int{}, StartedAtMs: nowMs},
		CreatedAtMs: nowMs,
	}
}

// PopWork removes and returns the head of the queue, skipping (and
// discarding) any WorkItem whose step has already reached a terminal
// status - invariant 4 in §3.
func (c *Context) PopWork() (WorkItem, bool) {
	for len(c.Queue) > 0 {
		item := c.Queue[0]
		c.Queue = c.Queue[1:]
		step, ok := c.Steps[item.StepID]
		if !ok || step.Status.IsTerminal() {
			continue
		}
		return item, true
	}
	return WorkItem{}, false
}

// PushWork appends a WorkItem to the tail of the FIFO queue.
func (c *Context) PushWork(item WorkItem) {
	c.Queue = append(c.Queue, item)
}

// AddChild creates a child Step under parent, appends it to Steps and
// returns it. Invariant 1: depth = parent.depth + 1.
func (c *Context) AddChild(parentID, childID, description string) *Step {
	parent := c.Steps[parentID]
	depth := 0
	if parent != nil {
		depth = parent.Depth + 1
	}
	child := &Step{
		StepID:      childID,
		ParentID:    parentID,
		Depth:       depth,
		Description: description,
		Status:      StepPending,
	}
	c.Steps[childID] = child
	if parent != nil {
		parent.ChildIDs = append(parent.ChildIDs, childID)
	}
	return child
}

// AppendHistory records a candidate for inspection, trimming to
// historyLimit from the front (oldest first).
func (c *Context) AppendHistory(stepID string, phase Phase, cand Candidate, at time.Time) {
	c.History = append(c.History, HistoryEntry{StepID: stepID, Phase: phase, Candidate: cand, At: at})
	if len(c.History) > historyLimit {
		c.History = c.History[len(c.History)-historyLimit:]
	}
}

// AllChildrenTerminal reports whether every child of step is Done or
// Failed.
func (c *Context) AllChildrenTerminal(step *Step) bool {
	for _, id := range step.ChildIDs {
		child, ok := c.Steps[id]
		if !ok || !child.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyChildFailed reports whether any child of step ended Failed - used by
// the any-child-failed ⇒ parent-failed policy (§7).
func (c *Context) AnyChildFailed(step *Step) bool {
	for _, id := range step.ChildIDs {
		if child, ok := c.Steps[id]; ok && child.Status == StepFailed {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy suitable for round-trip verification in
// tests; production persistence goes through JSON (see internal/sessionstore).
func (c *Context) Clone() *Context {
	clone := *c
	clone.Steps = make(map[string]*Step, len(c.Steps))
	for k, v := range c.Steps {
		s := *v
		s.Candidates = append([]Candidate(nil), v.Candidates...)
		s.ChildIDs = append([]string(nil), v.ChildIDs...)
		clone.Steps[k] = &s
	}
	clone.Queue = append([]WorkItem(nil), c.Queue...)
	clone.History = append([]HistoryEntry(nil), c.History...)
	if c.WaitState != nil {
		ws := *c.WaitState
		clone.WaitState = &ws
	}
	clone.Metrics.VoteMargins = append([]int(nil), c.Metrics.VoteMargins...)
	clone.Metrics.EffectiveK = map[string]int{}
	for k, v := range c.Metrics.EffectiveK {
		clone.Metrics.EffectiveK[k] = v
	}
	return &clone
}
