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

package redflag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// leadingMarkerPattern strips an optional "1.", "1)" or "-" bullet marker
// from the front of a decomposition line.
var leadingMarkerPattern = regexp.MustCompile(`^\s*(?:\d+[.)]|-)\s*`)

// ParseDecomposition splits a decomposition candidate into subtask
// descriptions: one non-blank line per subtask, with an optional leading
// numeric or dash marker stripped. This is the pinned decomposition
// grammar (resolves the spec's decomposition-format Open Question).
func ParseDecomposition(candidate string) []string {
	var children []string
	for _, line := range strings.Split(candidate, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = leadingMarkerPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		children = append(children, line)
	}
	return children
}

// DecompositionFormatFlagger enforces the decomposition grammar and bounds
// on child count. It is wired only into the decomposition agent's pipeline.
type DecompositionFormatFlagger struct {
	MinChildren int
	MaxChildren int
}

func NewDecompositionFormatFlagger(minChildren, maxChildren int) *DecompositionFormatFlagger {
	return &DecompositionFormatFlagger{MinChildren: minChildren, MaxChildren: maxChildren}
}

func (f *DecompositionFormatFlagger) Name() string { return "decomposition_format" }

func (f *DecompositionFormatFlagger) Evaluate(ctx context.Context, candidate string) (FlagVerdict, error) {
	children := ParseDecomposition(candidate)
	min := f.MinChildren
	if min <= 0 {
		min = 1
	}
	if len(children) < min {
		return FlagVerdict{Flagged: true, Reason: fmt.Sprintf("decomposition produced %d children, fewer than minimum %d", len(children), min)}, nil
	}
	if f.MaxChildren > 0 && len(children) > f.MaxChildren {
		return FlagVerdict{Flagged: true, Reason: fmt.Sprintf("decomposition produced %d children, more than maximum %d", len(children), f.MaxChildren)}, nil
	}
	return FlagVerdict{}, nil
}
