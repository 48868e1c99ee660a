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

// Package ports declares the outbound capability contracts the orchestrator
// core depends on. Adapters (LLM providers, SQL session stores, the CLI's
// filesystem writer, ...) live outside this package and are wired together
// by the composition root.
package ports

import (
	"context"
	"errors"
	"time"
)

// LlmErrorKind classifies why an LLM call failed.
type LlmErrorKind string

const (
	LlmErrorAuth        LlmErrorKind = "auth"
	LlmErrorRateLimited LlmErrorKind = "rate_limited"
	LlmErrorTransport   LlmErrorKind = "transport"
	LlmErrorProvider    LlmErrorKind = "provider"
	LlmErrorCanceled    LlmErrorKind = "canceled"
)

// LlmError is the structured error type returned by LlmClient.Complete.
type LlmError struct {
	Kind    LlmErrorKind
	Code    string
	Message string
	Err     error
}

func (e *LlmError) Error() string {
	if e.Code != "" {
		return string(e.Kind) + " (" + e.Code + "): " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *LlmError) Unwrap() error { return e.Err }

// IsRetryable reports whether the sampler should retry the call with backoff.
func (e *LlmError) IsRetryable() bool {
	return e.Kind == LlmErrorTransport || e.Kind == LlmErrorRateLimited
}

// IsFatal reports whether the error should fail the step outright.
func (e *LlmError) IsFatal() bool {
	return e.Kind == LlmErrorAuth || e.Kind == LlmErrorProvider
}

// AsLlmError unwraps err into an *LlmError if possible.
func AsLlmError(err error) (*LlmError, bool) {
	var le *LlmError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// CompletionOptions configures a single LLM completion request.
type CompletionOptions struct {
	Model       string
	Provider    string
	Temperature float64
	MaxTokens   int
	APIKey      string
	Timeout     time.Duration
}

// LlmClient issues completions against a single underlying provider.
// Implementations must be safe for concurrent use.
type LlmClient interface {
	Complete(ctx context.Context, opts CompletionOptions, prompt string) (string, error)
}

// SessionSnapshot is the opaque persisted form of a workflow Context plus
// metadata used for listing without deserializing the full payload.
type SessionSnapshot struct {
	ID        string
	Status    string
	UpdatedAt time.Time
	Provider  string
	Model     string
	Domain    string
	Payload   []byte
}

// SessionRepository persists and retrieves session snapshots.
// Writes must be atomic with respect to readers of the same ID
// (last-writer-wins).
type SessionRepository interface {
	Save(ctx context.Context, snapshot SessionSnapshot) error
	Load(ctx context.Context, id string) (*SessionSnapshot, error)
	List(ctx context.Context, limit int) ([]SessionSnapshot, error)
	Delete(ctx context.Context, id string) error
}

// PromptRenderer renders a named template against a structured data bag.
// Missing keys render as empty strings.
type PromptRenderer interface {
	Render(ctx context.Context, templateName string, data map[string]any) (string, error)
}

// FlagVerdict is the result of one RedFlagger evaluation.
type FlagVerdict struct {
	Flagged bool
	Reason  string
}

// Ok is the zero-value "not flagged" verdict.
func Ok() FlagVerdict { return FlagVerdict{} }

// Flag constructs a flagged verdict with a reason.
func Flag(reason string) FlagVerdict { return FlagVerdict{Flagged: true, Reason: reason} }

// RedFlagger evaluates a single candidate. Implementations must be
// deterministic and pure - no network or filesystem side effects beyond
// what is required to render a verdict (llm_critique is the one exception
// the spec names, and its verdict is still a pure function of the LLM's
// response text).
type RedFlagger interface {
	Name() string
	Evaluate(ctx context.Context, candidate string) (FlagVerdict, error)
}

// FileSystem reads and writes byte payloads at validated relative paths
// rooted in a configured workspace.
type FileSystem interface {
	WriteFile(ctx context.Context, relPath string, content []byte) error
	ReadFile(ctx context.Context, relPath string) ([]byte, error)
}

// Clock returns monotonic-or-wall-clock timestamps for metrics only.
// Never consulted for control-flow decisions.
type Clock interface {
	NowMs() int64
}

// TelemetryEvent is a single structured event recorded by a TelemetrySink.
type TelemetryEvent struct {
	Name   string
	Fields map[string]any
}

// TelemetrySink records structured events. It never influences control flow.
type TelemetrySink interface {
	Record(ctx context.Context, event TelemetryEvent)
}
