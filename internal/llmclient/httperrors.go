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

// Package llmclient provides concrete ports.LlmClient adapters for the
// OpenAI, Anthropic, xAI Grok (OpenAI-compatible) and Gemini APIs.
package llmclient

import (
	"fmt"
	"net/http"

	"github.com/tschacht/microfactory/internal/ports"
)

// classifyStatus maps an HTTP status code to an LlmErrorKind following the
// same auth/rate-limit/transport/provider split the teacher's
// internal/httpclient retry classifier uses.
func classifyStatus(status int) ports.LlmErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ports.LlmErrorAuth
	case status == http.StatusTooManyRequests:
		return ports.LlmErrorRateLimited
	case status >= 500:
		return ports.LlmErrorTransport
	case status >= 400:
		return ports.LlmErrorProvider
	default:
		return ports.LlmErrorProvider
	}
}

// newAPIError builds a *ports.LlmError from a non-2xx HTTP response.
func newAPIError(provider string, status int, body string, err error) *ports.LlmError {
	return &ports.LlmError{
		Kind:    classifyStatus(status),
		Code:    fmt.Sprintf("%s:%d", provider, status),
		Message: body,
		Err:     err,
	}
}
