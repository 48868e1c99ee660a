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

package prompt_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/prompt"
)

func TestRendererLoadsAndCachesFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "decompose.tmpl"), []byte("Decompose: {{.description}}"), 0o644))

	r := prompt.New(dir)
	out, err := r.Render(context.Background(), "decompose", map[string]any{"description": "build a CLI"})
	require.NoError(t, err)
	assert.Equal(t, "Decompose: build a CLI", out)
}

func TestRendererMissingTemplate(t *testing.T) {
	r := prompt.New(t.TempDir())
	_, err := r.Render(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestStaticRenderer(t *testing.T) {
	r := prompt.StaticRenderer{Templates: map[string]string{"solve": "Solve: {{.description}}"}}
	out, err := r.Render(context.Background(), "solve", map[string]any{"description": "write main.go"})
	require.NoError(t, err)
	assert.Equal(t, "Solve: write main.go", out)
}
