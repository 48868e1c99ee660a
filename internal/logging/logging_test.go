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

package logging_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/logging"
)

func TestParseLevelRecognizesNames(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("nonsense"))
}

func TestSetupSimpleFormatWritesLevelAndMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	logger := logging.Setup(logging.Config{Level: "info", Format: logging.FormatSimple, Output: f})
	logger.Info("runner suspended", "step_id", "step-1")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "runner suspended")
	assert.Contains(t, out, "step_id=step-1")
}

func TestSetupJSONFormatProducesValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	logger := logging.Setup(logging.Config{Level: "debug", Format: logging.FormatJSON, Output: f})
	logger.Info("checkpoint saved", "session_id", "sess-1")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "checkpoint saved", decoded["msg"])
	assert.Equal(t, "sess-1", decoded["session_id"])
}

func TestSetupRespectsLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	logger := logging.Setup(logging.Config{Level: "warn", Format: logging.FormatSimple, Output: f})
	logger.Debug("should not appear")
	logger.Warn("should appear")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestWithAttrsCarriesThroughSubsequentCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	logger := logging.Setup(logging.Config{Level: "info", Format: logging.FormatSimple, Output: f})
	bound := logger.With("session_id", "sess-7")
	bound.Info("step dispatched")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "session_id=sess-7")
}

func TestOpenSessionLogFileCreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	f, err := logging.OpenSessionLogFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("line1\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := logging.OpenSessionLogFile(path)
	require.NoError(t, err)
	_, err = f2.WriteString("line2\n")
	require.NoError(t, err)
	require.NoError(t, f2.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(raw))
}
