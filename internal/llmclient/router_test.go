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

package llmclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/llmclient"
	"github.com/tschacht/microfactory/internal/ports"
)

type stubClient struct{ text string }

func (s stubClient) Complete(ctx context.Context, opts ports.CompletionOptions, prompt string) (string, error) {
	return s.text, nil
}

func TestRouterDispatchesByProvider(t *testing.T) {
	r := &llmclient.Router{}
	r.Register("openai", stubClient{text: "from openai"})
	r.Register("anthropic", stubClient{text: "from anthropic"})

	out, err := r.Complete(context.Background(), ports.CompletionOptions{Provider: "anthropic"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", out)
}

func TestRouterUnknownProvider(t *testing.T) {
	r := &llmclient.Router{}
	_, err := r.Complete(context.Background(), ports.CompletionOptions{Provider: "unknown"}, "hi")
	assert.Error(t, err)
}
