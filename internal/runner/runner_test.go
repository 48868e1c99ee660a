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

package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/kernel"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/redflag"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sampler"
	"github.com/tschacht/microfactory/internal/vote"
)

type fixedRenderer struct{ text string }

func (f fixedRenderer) Render(ctx context.Context, name string, data map[string]any) (string, error) {
	return f.text, nil
}

type fixedClient struct{ text string }

func (f fixedClient) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	return f.text, nil
}

type passAll struct{}

func (passAll) Evaluate(ctx context.Context, candidate string) (redflag.FlagVerdict, error) {
	return redflag.FlagVerdict{}, nil
}

type fakeFS struct{ files map[string]string }

func (f *fakeFS) WriteFile(ctx context.Context, relPath string, content []byte) error {
	f.files[relPath] = string(content)
	return nil
}
func (f *fakeFS) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return []byte(f.files[relPath]), nil
}

type noopCheckpointer struct{ calls int }

func (c *noopCheckpointer) Checkpoint(ctx context.Context, wctx *domain.Context) error {
	c.calls++
	return nil
}

func buildRunner(t *testing.T, fs *fakeFS, chk runner.Checkpointer) *runner.Runner {
	t.Helper()
	decomposeSampler := &sampler.Sampler{Client: fixedClient{text: "1. write main.go\n2. write tests\n"}, Pipeline: passAll{}}
	solveSampler := &sampler.Sampler{Client: fixedClient{text: `<file path="out.txt">done</file>`}, Pipeline: passAll{}}

	return &runner.Runner{
		Checkpointer: chk,
		Kernels: map[domain.Phase]runner.Kernel{
			domain.PhaseDecompose: &kernel.DecomposeKernel{
				Sampler: decomposeSampler, Renderer: fixedRenderer{}, TemplateName: "decompose",
				SampleConfig: sampler.Config{N: 3, MaxConcurrent: 3},
			},
			domain.PhaseDecompositionVote: &kernel.DecompositionVoteKernel{
				Engine:      vote.NewEngine(2, 0.85),
				Granularity: kernel.Granularity{MaxDepth: 6, MinWordsPerLeaf: 10},
			},
			domain.PhaseSolve: &kernel.SolveKernel{
				Sampler: solveSampler, Renderer: fixedRenderer{}, TemplateName: "solve",
				SampleConfig: sampler.Config{N: 3, MaxConcurrent: 3},
			},
			domain.PhaseSolutionVote: &kernel.SolutionVoteKernel{Engine: vote.NewEngine(2, 0.85)},
			domain.PhaseApplyVerify:  &kernel.ApplyVerifyKernel{FileSystem: fs},
		},
	}
}

func TestRunnerDrivesSessionToCompletion(t *testing.T) {
	wctx := domain.NewContext("sess-1", "build a tool", "code", "openai", "gpt", "step-root", 0)
	fs := &fakeFS{files: map[string]string{}}
	chk := &noopCheckpointer{}
	r := buildRunner(t, fs, chk)

	err := r.Run(context.Background(), wctx)
	require.NoError(t, err)

	assert.Nil(t, wctx.WaitState)
	assert.Equal(t, domain.StepDone, wctx.Steps["step-root"].Status)
	for _, step := range wctx.Steps {
		assert.True(t, step.Status.IsTerminal(), "every step should reach a terminal status, got %s for %s", step.Status, step.StepID)
	}
	assert.Greater(t, chk.calls, 0, "checkpointer must be invoked during the run")
	assert.Equal(t, "done", fs.files["out.txt"])
}

func TestRunnerStepByStepPausesAfterFirstStep(t *testing.T) {
	wctx := domain.NewContext("sess-1", "build a tool", "code", "openai", "gpt", "step-root", 0)
	fs := &fakeFS{files: map[string]string{}}
	r := buildRunner(t, fs, nil)
	r.Thresholds.StepByStep = true

	err := r.Run(context.Background(), wctx)
	require.NoError(t, err)
	require.NotNil(t, wctx.WaitState)
	assert.Equal(t, domain.TriggerStepByStep, wctx.WaitState.Trigger)

	err = r.Resume(context.Background(), wctx)
	require.NoError(t, err)
	require.NotNil(t, wctx.WaitState, "resuming with StepByStep still enabled pauses again after the next step")
}

func TestRunnerResampleBudgetPause(t *testing.T) {
	wctx := domain.NewContext("sess-1", "build a tool", "code", "openai", "gpt", "step-root", 0)
	fs := &fakeFS{files: map[string]string{}}
	r := buildRunner(t, fs, nil)
	r.Thresholds.ResampleBudgetPerStep = 1 // more than one resample on a step trips it

	// Reject the first two decompose draws, so the step ends with a
	// ResampleCount of 2, past the threshold of 1.
	flaky := &rejectFirstN{n: 2}
	r.Kernels[domain.PhaseDecompose] = &kernel.DecomposeKernel{
		Sampler:      &sampler.Sampler{Client: fixedClient{text: "1. a\n2. b\n"}, Pipeline: flaky},
		Renderer:     fixedRenderer{},
		TemplateName: "decompose",
		SampleConfig: sampler.Config{N: 1, MaxConcurrent: 1, ResampleBudget: 5},
	}

	err := r.Run(context.Background(), wctx)
	require.NoError(t, err)
	require.NotNil(t, wctx.WaitState)
	assert.Equal(t, domain.TriggerResampleBudgetExceeded, wctx.WaitState.Trigger)
}

type rejectFirstN struct {
	n     int
	calls int
}

func (r *rejectFirstN) Evaluate(ctx context.Context, candidate string) (redflag.FlagVerdict, error) {
	r.calls++
	if r.calls <= r.n {
		return redflag.FlagVerdict{Flagged: true, Reason: "warm-up reject"}, nil
	}
	return redflag.FlagVerdict{}, nil
}
