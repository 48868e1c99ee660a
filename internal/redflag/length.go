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
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// CountMode selects how LengthFlagger measures a candidate's size.
type CountMode string

const (
	// CountModeWords splits on whitespace, the spec-mandated default proxy.
	CountModeWords CountMode = "words"
	// CountModeTiktoken uses an accurate BPE token count, opt-in only.
	CountModeTiktoken CountMode = "tiktoken"
)

// LengthFlagger flags candidates outside [MinTokens, MaxTokens].
// MaxTokens <= 0 means unbounded above.
type LengthFlagger struct {
	MinTokens int
	MaxTokens int
	Mode      CountMode
	Encoding  string // tiktoken encoding name, e.g. "cl100k_base"; default used when empty.

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewLengthFlagger constructs a LengthFlagger with CountModeWords as the
// default, matching §4.3's requirement that the word-count proxy be the
// default length check.
func NewLengthFlagger(minTokens, maxTokens int, mode CountMode, encoding string) *LengthFlagger {
	if mode == "" {
		mode = CountModeWords
	}
	return &LengthFlagger{MinTokens: minTokens, MaxTokens: maxTokens, Mode: mode, Encoding: encoding}
}

func (f *LengthFlagger) Name() string { return "length" }

func (f *LengthFlagger) Evaluate(ctx context.Context, candidate string) (FlagVerdict, error) {
	count, err := f.count(candidate)
	if err != nil {
		return FlagVerdict{}, fmt.Errorf("length flagger: %w", err)
	}
	if f.MinTokens > 0 && count < f.MinTokens {
		return FlagVerdict{Flagged: true, Reason: fmt.Sprintf("length %d below minimum %d", count, f.MinTokens)}, nil
	}
	if f.MaxTokens > 0 && count > f.MaxTokens {
		return FlagVerdict{Flagged: true, Reason: fmt.Sprintf("length %d exceeds maximum %d", count, f.MaxTokens)}, nil
	}
	return FlagVerdict{}, nil
}

func (f *LengthFlagger) count(candidate string) (int, error) {
	switch f.Mode {
	case CountModeTiktoken:
		enc, err := f.tiktokenEncoding()
		if err != nil {
			return 0, err
		}
		return len(enc.Encode(candidate, nil, nil)), nil
	default:
		return len(strings.Fields(candidate)), nil
	}
}

func (f *LengthFlagger) tiktokenEncoding() (*tiktoken.Tiktoken, error) {
	f.encOnce.Do(func() {
		name := f.Encoding
		if name == "" {
			name = "cl100k_base"
		}
		f.enc, f.encErr = tiktoken.GetEncoding(name)
	})
	return f.enc, f.encErr
}
