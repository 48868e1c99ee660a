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

package sampler_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/redflag"
	"github.com/tschacht/microfactory/internal/sampler"
)

type fakeClient struct {
	counter atomic.Int64
	fail    func(n int64) error
}

func (f *fakeClient) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	n := f.counter.Add(1)
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("candidate-%d", n), nil
}

type everyThirdFlagged struct{}

func (everyThirdFlagged) Evaluate(ctx context.Context, candidate string) (redflag.FlagVerdict, error) {
	var n int
	fmt.Sscanf(candidate, "candidate-%d", &n)
	if n%3 == 0 {
		return redflag.FlagVerdict{Flagged: true, Reason: "divisible by three"}, nil
	}
	return redflag.FlagVerdict{}, nil
}

type alwaysPass struct{}

func (alwaysPass) Evaluate(ctx context.Context, candidate string) (redflag.FlagVerdict, error) {
	return redflag.FlagVerdict{}, nil
}

func TestSampleReachesEnsembleSize(t *testing.T) {
	s := &sampler.Sampler{Client: &fakeClient{}, Pipeline: alwaysPass{}}
	res, err := s.Sample(context.Background(), ports.CompletionOptions{}, "prompt", sampler.Config{N: 5, MaxConcurrent: 2})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 5)
}

func TestSampleResamplesRejected(t *testing.T) {
	s := &sampler.Sampler{Client: &fakeClient{}, Pipeline: everyThirdFlagged{}}
	res, err := s.Sample(context.Background(), ports.CompletionOptions{}, "prompt", sampler.Config{N: 4, MaxConcurrent: 1, ResampleBudget: 10})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 4)
	assert.Greater(t, res.Samples, 4, "rejected candidates must have triggered resamples")
}

func TestSampleFatalErrorAborts(t *testing.T) {
	client := &fakeClient{fail: func(n int64) error {
		return &ports.LlmError{Kind: ports.LlmErrorAuth, Message: "bad key"}
	}}
	s := &sampler.Sampler{Client: client, Pipeline: alwaysPass{}}
	_, err := s.Sample(context.Background(), ports.CompletionOptions{}, "prompt", sampler.Config{N: 3, MaxConcurrent: 1})
	require.Error(t, err)
	le, ok := ports.AsLlmError(err)
	require.True(t, ok)
	assert.Equal(t, ports.LlmErrorAuth, le.Kind)
}

func TestSampleRetriesTransportErrors(t *testing.T) {
	client := &fakeClient{fail: func(n int64) error {
		if n == 1 {
			return &ports.LlmError{Kind: ports.LlmErrorTransport, Message: "timeout"}
		}
		return nil
	}}
	s := &sampler.Sampler{Client: client, Pipeline: alwaysPass{}}
	res, err := s.Sample(context.Background(), ports.CompletionOptions{}, "prompt", sampler.Config{N: 1, MaxConcurrent: 1, BaseBackoff: 1})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 1)
}
