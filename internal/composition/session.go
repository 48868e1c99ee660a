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

package composition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/kernel"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sessionstore"
	"github.com/tschacht/microfactory/internal/workspace"
)

// Service owns session lifecycle: starting a fresh run, resuming a
// suspended one, and looking a session's domain up in the current config
// so Resume can rebuild its kernel set (from the new config after a
// SetConfig). It implements
// server.Resumer structurally, with no import of the server package
// needed.
type Service struct {
	Builder      *Builder
	Checkpointer *sessionstore.Checkpointer
	Thresholds   runner.Thresholds
	Clock        ports.Clock                    // defaults to wall-clock time; overridable in tests
	OnTransition func(sessionID, status string) // optional; wired to a server.Notifier by the caller

	mu  sync.RWMutex
	cfg *config.Config
}

// NewService wires a Service from an already-loaded domain Config and the
// shared Builder/Checkpointer pair every session in this process uses.
func NewService(cfg *config.Config, builder *Builder, checkpointer *sessionstore.Checkpointer, thresholds runner.Thresholds) *Service {
	return &Service{cfg: cfg, Builder: builder, Checkpointer: checkpointer, Thresholds: thresholds, Clock: workspace.Clock{}}
}

// SetConfig swaps the config a running Service resolves domains against.
// Sessions already in flight keep the runner they were built with; only a
// subsequent Start or Resume observes the new config. Safe for concurrent
// use with Start/Resume, e.g. from a config file watcher.
func (s *Service) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start creates a fresh session for domainName and prompt, then drives it
// until it either completes or a pause trigger suspends it. The returned
// Context reflects whichever of those two outcomes occurred; callers
// distinguish them via wctx.WaitState.
func (s *Service) Start(ctx context.Context, domainName, prompt, provider, model string) (*domain.Context, error) {
	domainCfg, ok := s.config().Domains[domainName]
	if !ok {
		return nil, fmt.Errorf("composition: unknown domain %q", domainName)
	}

	sessionID := uuid.NewString()
	rootStepID := "root"
	wctx := domain.NewContext(sessionID, prompt, domainName, provider, model, rootStepID, time.Now().UnixMilli())

	// §4.7's granularity gate applies to the root step too: a trivially
	// atomic prompt skips straight to Solve instead of always starting at
	// Decompose.
	granularity := kernel.Granularity{MaxDepth: domainCfg.StepGranularity.MaxDepth, MinWordsPerLeaf: domainCfg.StepGranularity.MinWordsPerLeaf}
	if granularity.IsLeaf(0, prompt) {
		wctx.Queue[0].Phase = domain.PhaseSolve
	}

	r, err := s.Builder.BuildRunner(domainCfg, s.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("composition: build runner for domain %q: %w", domainName, err)
	}

	if err := r.Run(ctx, wctx); err != nil {
		return wctx, fmt.Errorf("composition: run session %s: %w", sessionID, err)
	}
	s.notify(wctx)
	return wctx, nil
}

// Resume loads a suspended session by ID, rebuilds the runner for its
// original domain, and continues the run. It satisfies server.Resumer.
func (s *Service) Resume(ctx context.Context, sessionID string) error {
	wctx, err := s.Checkpointer.LoadContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("composition: load session %s: %w", sessionID, err)
	}
	if wctx.WaitState == nil {
		return fmt.Errorf("composition: session %s is not suspended", sessionID)
	}

	domainCfg, ok := s.config().Domains[wctx.Domain]
	if !ok {
		return fmt.Errorf("composition: session %s references unknown domain %q", sessionID, wctx.Domain)
	}

	r, err := s.Builder.BuildRunner(domainCfg, s.Thresholds)
	if err != nil {
		return fmt.Errorf("composition: rebuild runner for domain %q: %w", wctx.Domain, err)
	}

	if err := r.Resume(ctx, wctx); err != nil {
		return fmt.Errorf("composition: resume session %s: %w", sessionID, err)
	}
	s.notify(wctx)
	return nil
}

func (s *Service) notify(wctx *domain.Context) {
	status := "running"
	switch {
	case wctx.WaitState != nil:
		status = "suspended"
	default:
		for _, step := range wctx.Steps {
			if step.Depth != 0 || !step.Status.IsTerminal() {
				continue
			}
			status = "done"
			if step.Status == domain.StepFailed {
				status = "failed"
			}
			break
		}
	}
	if status == "done" || status == "failed" {
		wctx.Metrics.DurationMs = s.Clock.NowMs() - wctx.Metrics.StartedAtMs
	}
	if s.OnTransition != nil {
		s.OnTransition(wctx.SessionID, status)
	}
}
