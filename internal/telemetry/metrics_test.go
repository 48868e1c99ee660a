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

package telemetry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/telemetry"
)

func TestRecordSampleDrawnIncrementsCounter(t *testing.T) {
	m := telemetry.NewMetrics()
	m.Record(context.Background(), ports.TelemetryEvent{
		Name:   telemetry.EventSampleDrawn,
		Fields: map[string]any{"phase": "Solve", "agent_kind": "solver"},
	})

	body := scrape(t, m)
	assert.Contains(t, body, `microfactory_sampler_samples_total{agent_kind="solver",phase="Solve"} 1`)
}

func TestRecordVoteDecidedObservesMargin(t *testing.T) {
	m := telemetry.NewMetrics()
	m.Record(context.Background(), ports.TelemetryEvent{
		Name:   telemetry.EventVoteDecided,
		Fields: map[string]any{"phase": "SolutionVote", "margin": float64(3)},
	})

	body := scrape(t, m)
	assert.Contains(t, body, "microfactory_vote_margin_sum")
}

func TestRecordUnknownEventIsNoop(t *testing.T) {
	m := telemetry.NewMetrics()
	assert.NotPanics(t, func() {
		m.Record(context.Background(), ports.TelemetryEvent{Name: "nonsense"})
	})
}

func scrape(t *testing.T, m *telemetry.Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
