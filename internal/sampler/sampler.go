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

// Package sampler draws an ensemble of candidate completions for a single
// step under a bounded concurrency pool, filtering each candidate through
// a red-flag pipeline and resampling rejected slots up to a budget.
package sampler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/redflag"
)

// Pipeline is the subset of *redflag.Pipeline the sampler depends on, kept
// as an interface so tests can substitute a stub without constructing a
// real pipeline.
type Pipeline interface {
	Evaluate(ctx context.Context, candidate string) (redflag.FlagVerdict, error)
}

// Config bounds one ensemble sampling run.
type Config struct {
	N                 int // ensemble size requested
	MaxConcurrent     int
	ResampleBudget    int // additional attempts beyond N; default 2*N if <= 0
	MaxRetriesPerCall int // retries for retryable LlmErrors per slot
	BaseBackoff       time.Duration

	// Phase and AgentKind label telemetry events only; they never affect
	// sampling behavior.
	Phase     string
	AgentKind string
}

// Sampler draws ensembles of LLM completions.
type Sampler struct {
	Client    ports.LlmClient
	Pipeline  Pipeline
	Telemetry ports.TelemetrySink
	Clock     ports.Clock
	Rand      *rand.Rand // backoff jitter; nil uses a package-level source

	mu sync.Mutex // guards Rand, which math/rand.Rand is not safe for concurrent use without
}

// Result is one ensemble sampling outcome.
type Result struct {
	Accepted  []domain.Candidate
	Rejected  []domain.Candidate
	Samples   int
	Resamples int
}

// Sample runs up to cfg.N accepted draws (or exhausts the resample budget
// trying), returning at most cfg.N accepted candidates plus a record of
// rejections for metrics. Fatal LlmErrors (auth/provider) abort the whole
// ensemble immediately; retryable ones (transport/rate_limited) are retried
// with exponential backoff up to cfg.MaxRetriesPerCall, and an error that
// outlasts the retries aborts the ensemble as well.
func (s *Sampler) Sample(ctx context.Context, opts ports.CompletionOptions, prompt string, cfg Config) (Result, error) {
	if cfg.N <= 0 {
		return Result{}, fmt.Errorf("sampler: ensemble size must be positive, got %d", cfg.N)
	}
	budget := cfg.ResampleBudget
	if budget <= 0 {
		budget = 2 * cfg.N
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = cfg.N
	}

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	group, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	result := Result{}
	maxAttempts := cfg.N + budget

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		mu.Lock()
		haveEnough := len(result.Accepted) >= cfg.N
		mu.Unlock()
		if haveEnough {
			sem.Release(1)
			break
		}

		group.Go(func() error {
			defer sem.Release(1)
			cand, flagged, err := s.drawOne(gctx, opts, prompt, cfg)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if flagged.Flagged {
				result.Rejected = append(result.Rejected, domain.Candidate{Text: cand, Accepted: false, Reason: flagged.Reason})
				result.Resamples++
				s.emit(gctx, "red_flag", cfg, map[string]any{"flagger": flagged.Flagger})
				s.emit(gctx, "resample", cfg, map[string]any{"flagger": flagged.Flagger})
			} else if len(result.Accepted) < cfg.N {
				result.Accepted = append(result.Accepted, domain.Candidate{Text: cand, Accepted: true})
			}
			result.Samples++
			s.emit(gctx, "sample_drawn", cfg, nil)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// drawOne issues a single completion and evaluates it through the
// pipeline, retrying transport/rate-limit errors with backoff.
func (s *Sampler) drawOne(ctx context.Context, opts ports.CompletionOptions, prompt string, cfg Config) (string, redflag.FlagVerdict, error) {
	maxRetries := cfg.MaxRetriesPerCall
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := cfg.BaseBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		text, err := s.Client.Complete(ctx, opts, prompt)
		if err == nil {
			verdict, ferr := s.Pipeline.Evaluate(ctx, text)
			if ferr != nil {
				return "", redflag.FlagVerdict{}, fmt.Errorf("sampler: red-flag evaluation: %w", ferr)
			}
			return text, verdict, nil
		}

		lastErr = err
		le, ok := ports.AsLlmError(err)
		if !ok || !le.IsRetryable() {
			return "", redflag.FlagVerdict{}, err
		}
		if attempt == maxRetries {
			break
		}
		if werr := s.wait(ctx, backoffDuration(base, attempt, s.jitter())); werr != nil {
			return "", redflag.FlagVerdict{}, werr
		}
	}
	return "", redflag.FlagVerdict{}, lastErr
}

// emit records a telemetry event carrying this run's phase/agent_kind
// labels, merged with any extra fields. A nil Telemetry sink is a no-op.
func (s *Sampler) emit(ctx context.Context, name string, cfg Config, extra map[string]any) {
	if s.Telemetry == nil {
		return
	}
	fields := map[string]any{"phase": cfg.Phase, "agent_kind": cfg.AgentKind}
	for k, v := range extra {
		fields[k] = v
	}
	s.Telemetry.Record(ctx, ports.TelemetryEvent{Name: name, Fields: fields})
}

func (s *Sampler) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Sampler) jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Rand == nil {
		s.Rand = rand.New(rand.NewSource(1))
	}
	return s.Rand.Float64()
}

func backoffDuration(base time.Duration, attempt int, jitter float64) time.Duration {
	mult := 1 << attempt
	d := time.Duration(float64(base) * float64(mult) * (0.5 + jitter))
	return d
}
