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

// Package vote implements fuzzy-bucketed first-to-ahead-by-k voting over a
// stream of accepted candidates.
package vote

// DefaultSimilarityThreshold is the normalized-Levenshtein similarity
// at or above which two candidates are folded into the same bucket. The spec
// allows tightening but never loosening this default at the domain level.
const DefaultSimilarityThreshold = 0.85

// bucket accumulates every candidate text judged similar to its
// representative (the first candidate that created the bucket).
type bucket struct {
	representative string
	count          int
	firstIndex     int
}

// Result is the outcome of running Engine.Vote over a sequence of
// candidates.
type Result struct {
	Winner       string
	WinnerCount  int
	RunnerUp     int
	Margin       int
	TotalVotes   int
	Decided      bool
	DecidedAtIdx int // index (0-based) of the candidate that reached the margin
}

// Engine runs first-to-ahead-by-k voting with fuzzy bucketing.
type Engine struct {
	K         int
	Threshold float64
}

// NewEngine builds an Engine. threshold <= 0 uses DefaultSimilarityThreshold.
func NewEngine(k int, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Engine{K: k, Threshold: threshold}
}

// Vote folds candidates into similarity buckets in arrival order and
// returns as soon as one bucket is ahead of every other bucket by at least
// K votes (first-to-ahead-by-k, early termination). If the input is
// exhausted before any bucket reaches that margin, the plurality bucket
// wins, breaking ties by first arrival - this matches invariant #4
// (idempotent under replay) because both paths are pure functions of the
// ordered input.
func (e *Engine) Vote(candidates []string) Result {
	var buckets []*bucket

	for i, c := range candidates {
		b := e.assignBucket(buckets, c)
		if b == nil {
			buckets = append(buckets, &bucket{representative: c, count: 1, firstIndex: i})
		} else {
			b.count++
		}

		if winner, margin, ok := aheadByK(buckets, e.K); ok {
			return Result{
				Winner:       winner.representative,
				WinnerCount:  winner.count,
				RunnerUp:     winner.count - margin,
				Margin:       margin,
				TotalVotes:   i + 1,
				Decided:      true,
				DecidedAtIdx: i,
			}
		}
	}

	if len(buckets) == 0 {
		return Result{}
	}
	best := plurality(buckets)
	second := 0
	for _, b := range buckets {
		if b == best {
			continue
		}
		if b.count > second {
			second = b.count
		}
	}
	return Result{
		Winner:       best.representative,
		WinnerCount:  best.count,
		RunnerUp:     second,
		Margin:       best.count - second,
		TotalVotes:   len(candidates),
		Decided:      false,
		DecidedAtIdx: len(candidates) - 1,
	}
}

// assignBucket finds the first existing bucket similar enough to c,
// scanning in bucket-creation order so arrival order remains deterministic.
func (e *Engine) assignBucket(buckets []*bucket, c string) *bucket {
	for _, b := range buckets {
		if NormalizedSimilarity(b.representative, c) >= e.Threshold {
			return b
		}
	}
	return nil
}

// aheadByK reports whether the current leading bucket is ahead of every
// other bucket by at least k votes.
func aheadByK(buckets []*bucket, k int) (*bucket, int, bool) {
	if k <= 0 || len(buckets) == 0 {
		return nil, 0, false
	}
	leader := plurality(buckets)
	margin := -1
	for _, b := range buckets {
		if b == leader {
			continue
		}
		d := leader.count - b.count
		if margin == -1 || d < margin {
			margin = d
		}
	}
	if margin == -1 {
		// Only one bucket exists; it is "ahead" of nothing yet.
		return nil, 0, false
	}
	if margin >= k {
		return leader, margin, true
	}
	return nil, 0, false
}

// plurality returns the bucket with the highest count, breaking ties by
// earliest first arrival.
func plurality(buckets []*bucket) *bucket {
	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.count > best.count || (b.count == best.count && b.firstIndex < best.firstIndex) {
			best = b
		}
	}
	return best
}
