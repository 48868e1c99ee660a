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

package kernel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/kernel"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/redflag"
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

func TestDecomposeThenVoteProducesChildren(t *testing.T) {
	wctx := domain.NewContext("sess-1", "build a CLI", "code", "openai", "gpt", "step-root", 0)

	decompose := &kernel.DecomposeKernel{
		Sampler:      &sampler.Sampler{Client: fixedClient{text: "1. parse args\n2. run command\n"}, Pipeline: passAll{}},
		Renderer:     fixedRenderer{},
		TemplateName: "decompose",
		SampleConfig: sampler.Config{N: 3, MaxConcurrent: 3},
	}
	action, err := decompose.Run(context.Background(), wctx, "step-root")
	require.NoError(t, err)
	assert.Equal(t, domain.StepAwaitingDecompositionVote, wctx.Steps["step-root"].Status)
	require.Len(t, action.Enqueue, 1)
	assert.Equal(t, domain.PhaseDecompositionVote, action.Enqueue[0].Phase)

	voteKernel := &kernel.DecompositionVoteKernel{
		Engine:      vote.NewEngine(2, 0.85),
		Granularity: kernel.Granularity{MaxDepth: 6, MinWordsPerLeaf: 1},
	}
	action, err = voteKernel.Run(context.Background(), wctx, "step-root")
	require.NoError(t, err)
	assert.Equal(t, domain.StepDecomposed, wctx.Steps["step-root"].Status)
	assert.Len(t, wctx.Steps["step-root"].ChildIDs, 2)
	assert.Len(t, action.Enqueue, 2)
}

func TestSolveVoteApplyVerifyHappyPath(t *testing.T) {
	wctx := domain.NewContext("sess-1", "write hello world", "code", "openai", "gpt", "step-root", 0)

	solve := &kernel.SolveKernel{
		Sampler:      &sampler.Sampler{Client: fixedClient{text: `<file path="main.go">package main</file>`}, Pipeline: passAll{}},
		Renderer:     fixedRenderer{},
		TemplateName: "solve",
		SampleConfig: sampler.Config{N: 3, MaxConcurrent: 3},
	}
	_, err := solve.Run(context.Background(), wctx, "step-root")
	require.NoError(t, err)
	assert.Equal(t, domain.StepAwaitingSolutionVote, wctx.Steps["step-root"].Status)

	solutionVote := &kernel.SolutionVoteKernel{Engine: vote.NewEngine(2, 0.85)}
	action, err := solutionVote.Run(context.Background(), wctx, "step-root")
	require.NoError(t, err)
	assert.Equal(t, domain.StepApplying, wctx.Steps["step-root"].Status)
	require.Len(t, action.Enqueue, 1)

	fs := &fakeFS{files: map[string]string{}}
	applyVerify := &kernel.ApplyVerifyKernel{FileSystem: fs}
	_, err = applyVerify.Run(context.Background(), wctx, "step-root")
	require.NoError(t, err)
	assert.Equal(t, domain.StepDone, wctx.Steps["step-root"].Status)
	assert.Equal(t, "package main", fs.files["main.go"])
}

func TestApplyVerifyFailsOnVerifierRejection(t *testing.T) {
	wctx := domain.NewContext("sess-1", "write hello world", "code", "openai", "gpt", "step-root", 0)
	wctx.Steps["step-root"].WinningOutput = `<file path="main.go">broken</file>`

	applyVerify := &kernel.ApplyVerifyKernel{
		FileSystem: &fakeFS{files: map[string]string{}},
		Root:       t.TempDir(),
		Verifier:   "exit 1",
	}
	_, err := applyVerify.Run(context.Background(), wctx, "step-root")
	require.NoError(t, err)
	assert.Equal(t, domain.StepFailed, wctx.Steps["step-root"].Status)
	assert.Contains(t, wctx.Steps["step-root"].VerifierOutput, "exit_code=1")
}

func TestAggregatePropagatesAnyChildFailed(t *testing.T) {
	wctx := domain.NewContext("sess-1", "prompt", "code", "openai", "gpt", "step-root", 0)
	wctx.AddChild("step-root", "step-a", "a")
	wctx.AddChild("step-root", "step-b", "b")
	wctx.Steps["step-root"].Status = domain.StepDecomposed
	wctx.Steps["step-a"].Status = domain.StepDone
	wctx.Steps["step-b"].Status = domain.StepFailed

	resolved := kernel.Aggregate(wctx, "step-root")
	assert.True(t, resolved)
	assert.Equal(t, domain.StepFailed, wctx.Steps["step-root"].Status)
}

func TestAggregateWaitsForAllChildren(t *testing.T) {
	wctx := domain.NewContext("sess-1", "prompt", "code", "openai", "gpt", "step-root", 0)
	wctx.AddChild("step-root", "step-a", "a")
	wctx.AddChild("step-root", "step-b", "b")
	wctx.Steps["step-root"].Status = domain.StepDecomposed
	wctx.Steps["step-a"].Status = domain.StepDone

	resolved := kernel.Aggregate(wctx, "step-root")
	assert.False(t, resolved)
	assert.Equal(t, domain.StepDecomposed, wctx.Steps["step-root"].Status)
}

func TestExtractFileBlocksMultiple(t *testing.T) {
	out := `<file path="a.go">package a</file>` + "\n" + `<file path="b.go">package b</file>`
	files := kernel.ExtractFileBlocks(out)
	assert.Equal(t, "package a", files["a.go"])
	assert.Equal(t, "package b", files["b.go"])
}

type fakeFS struct{ files map[string]string }

func (f *fakeFS) WriteFile(ctx context.Context, relPath string, content []byte) error {
	f.files[relPath] = string(content)
	return nil
}
func (f *fakeFS) ReadFile(ctx context.Context, relPath string) ([]byte, error) {
	return []byte(f.files[relPath]), nil
}
