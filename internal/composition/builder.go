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

// Package composition is the application's composition root: it reads a
// DomainConfig and wires every adapter (LLM router, prompt renderer,
// workspace filesystem, red-flag pipeline, session store) into a fully
// assembled *runner.Runner, the same way the CLI and the HTTP server each
// need one, without either of them knowing how a kernel gets built.
package composition

import (
	"context"
	"net/http"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/kernel"
	"github.com/tschacht/microfactory/internal/llmclient"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/prompt"
	"github.com/tschacht/microfactory/internal/redflag"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sampler"
	"github.com/tschacht/microfactory/internal/vote"
	"github.com/tschacht/microfactory/internal/workspace"
)

// Builder assembles Runners for whichever domain a session names. One
// Builder is shared across every session a process handles; it owns no
// per-session state itself.
type Builder struct {
	Router        ports.LlmClient
	Renderer      ports.PromptRenderer
	FileSystem    ports.FileSystem
	WorkspaceRoot string
	Telemetry     ports.TelemetrySink
	Checkpointer  runner.Checkpointer
}

// NewBuilder wires the default adapter set: an llmclient.Router over
// httpClient, a text/template prompt.Renderer rooted at promptDir, and a
// workspace.FileSystem rooted at workspaceRoot.
func NewBuilder(httpClient *http.Client, promptDir, workspaceRoot string, telemetry ports.TelemetrySink, checkpointer runner.Checkpointer) *Builder {
	return &Builder{
		Router:        llmclient.NewRouter(httpClient),
		Renderer:      prompt.New(promptDir),
		FileSystem:    workspace.New(workspaceRoot),
		WorkspaceRoot: workspaceRoot,
		Telemetry:     telemetry,
		Checkpointer:  checkpointer,
	}
}

// BuildRunner assembles a *runner.Runner wired for domainCfg, ready to
// drive any Context created against that domain.
func (b *Builder) BuildRunner(domainCfg config.DomainConfig, thresholds runner.Thresholds) (*runner.Runner, error) {
	if err := domainCfg.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := b.buildRedFlagPipeline(domainCfg, true)
	if err != nil {
		return nil, err
	}
	solverPipeline, err := b.buildRedFlagPipeline(domainCfg, false)
	if err != nil {
		return nil, err
	}

	adaptiveK := &runner.AdaptiveK{MinK: 1, MaxK: maxEnsembleSize(domainCfg)}

	kernels := map[domain.Phase]runner.Kernel{}

	if profile, ok := domainCfg.Agents[config.AgentDecomposer]; ok {
		kernels[domain.PhaseDecompose] = &kernel.DecomposeKernel{
			Sampler:      b.newSampler(pipeline),
			Renderer:     b.Renderer,
			TemplateName: profile.PromptTemplate,
			Options:      b.options(profile),
			SampleConfig: b.sampleConfig(profile, domainCfg, domain.PhaseDecompose, config.AgentDecomposer),
		}
	}

	if _, ok := domainCfg.Agents[config.AgentDecompositionVoter]; ok {
		profile := domainCfg.Agents[config.AgentDecompositionVoter]
		kernels[domain.PhaseDecompositionVote] = &adaptiveVoteKernel{
			AdaptiveK:     adaptiveK,
			Phase:         domain.PhaseDecompositionVote,
			FixedK:        profile.K,
			Threshold:     domainCfg.SimilarityThreshold,
			Decomposition: true,
			Granularity:   kernel.Granularity{MaxDepth: domainCfg.StepGranularity.MaxDepth, MinWordsPerLeaf: domainCfg.StepGranularity.MinWordsPerLeaf},
		}
	}

	if profile, ok := domainCfg.Agents[config.AgentSolver]; ok {
		kernels[domain.PhaseSolve] = &kernel.SolveKernel{
			Sampler:      b.newSampler(solverPipeline),
			Renderer:     b.Renderer,
			TemplateName: profile.PromptTemplate,
			Options:      b.options(profile),
			SampleConfig: b.sampleConfig(profile, domainCfg, domain.PhaseSolve, config.AgentSolver),
		}
	}

	if profile, ok := domainCfg.Agents[config.AgentSolutionVoter]; ok {
		kernels[domain.PhaseSolutionVote] = &adaptiveVoteKernel{
			AdaptiveK: adaptiveK,
			Phase:     domain.PhaseSolutionVote,
			FixedK:    profile.K,
			Threshold: domainCfg.SimilarityThreshold,
		}
	}

	kernels[domain.PhaseApplyVerify] = &kernel.ApplyVerifyKernel{
		FileSystem: b.FileSystem,
		Root:       b.WorkspaceRoot,
		Applier:    domainCfg.Applier,
		Verifier:   domainCfg.Verifier,
	}

	return &runner.Runner{
		Kernels:      kernels,
		Checkpointer: b.Checkpointer,
		Thresholds:   thresholds,
		AdaptiveK:    adaptiveK,
		Telemetry:    b.Telemetry,
	}, nil
}

// buildRedFlagPipeline builds the domain's red-flag chain. The
// decomposition_format check is kept only in the decomposer's chain.
func (b *Builder) buildRedFlagPipeline(domainCfg config.DomainConfig, forDecomposer bool) (*redflag.Pipeline, error) {
	deps := config.CritiqueDeps{Client: b.Router, Renderer: b.Renderer}
	cfgs := domainCfg.RedFlaggers
	if !forDecomposer {
		cfgs = nil
		for _, c := range domainCfg.RedFlaggers {
			if c.Kind != "decomposition_format" {
				cfgs = append(cfgs, c)
			}
		}
	}
	return config.BuildPipeline(cfgs, deps)
}

func (b *Builder) newSampler(pipeline *redflag.Pipeline) *sampler.Sampler {
	return &sampler.Sampler{
		Client:    b.Router,
		Pipeline:  pipeline,
		Telemetry: b.Telemetry,
	}
}

func (b *Builder) options(profile config.AgentProfile) ports.CompletionOptions {
	return ports.CompletionOptions{
		Model:       profile.Model,
		Provider:    profile.Provider,
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
		APIKey:      config.ResolveAPIKey(profile.Provider, ""),
	}
}

func (b *Builder) sampleConfig(profile config.AgentProfile, domainCfg config.DomainConfig, phase domain.Phase, agentKind config.AgentKind) sampler.Config {
	return sampler.Config{
		N:             profile.EnsembleSize,
		MaxConcurrent: domainCfg.MaxConcurrentLLM,
		Phase:         string(phase),
		AgentKind:     string(agentKind),
	}
}

// adaptiveVoteKernel re-reads AdaptiveK.Current before every invocation so
// a freshly built vote.Engine always uses the latest rolling-window k
// instead of one frozen at composition time - see AdaptiveK's doc comment.
// FixedK, when positive, opts a phase out of the adaptive policy entirely.
type adaptiveVoteKernel struct {
	AdaptiveK     *runner.AdaptiveK
	Phase         domain.Phase
	FixedK        int
	Threshold     float64
	Decomposition bool
	Granularity   kernel.Granularity
}

func (a *adaptiveVoteKernel) Run(ctx context.Context, wctx *domain.Context, stepID string) (kernel.NextAction, error) {
	k := a.FixedK
	if k <= 0 {
		k = a.AdaptiveK.Current(a.Phase)
	}
	engine := vote.NewEngine(k, a.Threshold)
	if a.Decomposition {
		dk := &kernel.DecompositionVoteKernel{Engine: engine, Granularity: a.Granularity}
		return dk.Run(ctx, wctx, stepID)
	}
	sk := &kernel.SolutionVoteKernel{Engine: engine}
	return sk.Run(ctx, wctx, stepID)
}

func maxEnsembleSize(domainCfg config.DomainConfig) int {
	biggest := 5
	for _, profile := range domainCfg.Agents {
		if profile.EnsembleSize > biggest {
			biggest = profile.EnsembleSize
		}
	}
	return biggest
}

