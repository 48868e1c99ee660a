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

package workspace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/workspace"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	fs := workspace.New(t.TempDir())
	require.NoError(t, fs.WriteFile(context.Background(), "src/main.go", []byte("package main")))

	data, err := fs.ReadFile(context.Background(), "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))
}

func TestWriteRejectsPathEscape(t *testing.T) {
	fs := workspace.New(t.TempDir())
	err := fs.WriteFile(context.Background(), "../outside.txt", []byte("x"))
	assert.Error(t, err)
}

func TestWriteRejectsAbsolutePath(t *testing.T) {
	fs := workspace.New(t.TempDir())
	err := fs.WriteFile(context.Background(), "/etc/passwd", []byte("x"))
	assert.Error(t, err)
}

func TestClockReturnsPositiveMillis(t *testing.T) {
	c := workspace.Clock{}
	assert.Greater(t, c.NowMs(), int64(0))
}
