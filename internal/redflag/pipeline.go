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

// Package redflag implements the ordered red-flag pipeline that filters
// sampled candidates before they are admitted to voting. Each flagger runs
// in the order configured; the first one to flag a candidate short-circuits
// the remaining flaggers for that candidate.
package redflag

import "context"

// FlagVerdict is the pipeline's own verdict type, separate from
// ports.FlagVerdict; the sampler consumes this type directly.
type FlagVerdict struct {
	Flagged bool
	Reason  string
	Flagger string
}

// Flagger evaluates a single candidate in isolation.
type Flagger interface {
	Name() string
	Evaluate(ctx context.Context, candidate string) (FlagVerdict, error)
}

// Pipeline runs an ordered list of Flaggers, stopping at the first flag.
type Pipeline struct {
	flaggers []Flagger
}

// NewPipeline builds a Pipeline from the given flaggers in evaluation order.
func NewPipeline(flaggers ...Flagger) *Pipeline {
	return &Pipeline{flaggers: append([]Flagger(nil), flaggers...)}
}

// Evaluate runs every flagger in order until one flags the candidate or all
// pass. A flagger that returns an error stops the chain: Evaluate returns a
// non-flagging verdict together with that error, and the caller decides how
// to treat the failure.
func (p *Pipeline) Evaluate(ctx context.Context, candidate string) (FlagVerdict, error) {
	for _, f := range p.flaggers {
		verdict, err := f.Evaluate(ctx, candidate)
		if err != nil {
			return FlagVerdict{}, err
		}
		if verdict.Flagged {
			verdict.Flagger = f.Name()
			return verdict, nil
		}
	}
	return FlagVerdict{}, nil
}

// Len reports how many flaggers are configured, for metrics/logging.
func (p *Pipeline) Len() int { return len(p.flaggers) }
