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
)

// SyntaxFlagger checks that bracket/brace/paren/quote delimiters balance,
// and optionally that every extracted `<file path="...">...</file>` block
// (the apply-phase output grammar) is well-formed.
type SyntaxFlagger struct {
	ExtractXML bool
}

func NewSyntaxFlagger(extractXML bool) *SyntaxFlagger {
	return &SyntaxFlagger{ExtractXML: extractXML}
}

func (f *SyntaxFlagger) Name() string { return "syntax" }

var filePathPattern = regexp.MustCompile(`<file\s+path="([^"]*)"\s*>`)

func (f *SyntaxFlagger) Evaluate(ctx context.Context, candidate string) (FlagVerdict, error) {
	if reason, bad := unbalancedDelimiters(candidate); bad {
		return FlagVerdict{Flagged: true, Reason: reason}, nil
	}
	if f.ExtractXML {
		opens := filePathPattern.FindAllStringIndex(candidate, -1)
		closes := regexp.MustCompile(`</file>`).FindAllStringIndex(candidate, -1)
		if len(opens) != len(closes) {
			return FlagVerdict{Flagged: true, Reason: fmt.Sprintf("mismatched <file> blocks: %d open, %d close", len(opens), len(closes))}, nil
		}
		for _, m := range filePathPattern.FindAllStringSubmatch(candidate, -1) {
			if m[1] == "" {
				return FlagVerdict{Flagged: true, Reason: "empty file path in <file> block"}, nil
			}
		}
	}
	return FlagVerdict{}, nil
}

// unbalancedDelimiters does a single pass, stack-based check across
// (), [], {} and double-quote parity. It is intentionally conservative: it
// flags only unambiguous imbalance, never attempts full language parsing.
func unbalancedDelimiters(s string) (string, bool) {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	opens := map[rune]bool{'(': true, '[': true, '{': true}
	var stack []rune
	inQuote := false
	escaped := false
	for _, r := range s {
		if inQuote {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inQuote = false
			}
			continue
		}
		switch {
		case r == '"':
			inQuote = true
		case opens[r]:
			stack = append(stack, r)
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Sprintf("unbalanced delimiter %q", r), true
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inQuote {
		return "unterminated quote", true
	}
	if len(stack) > 0 {
		return fmt.Sprintf("unclosed delimiter %q", stack[len(stack)-1]), true
	}
	return "", false
}
