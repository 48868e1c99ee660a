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

// Package telemetry adapts ports.TelemetrySink onto Prometheus counters and
// histograms, and provides an OpenTelemetry tracer provider for
// span-per-kernel-invocation tracing. Neither backend ever influences
// control flow; a nil or disabled sink is always safe to call.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tschacht/microfactory/internal/ports"
)

// Metrics is a ports.TelemetrySink backed by a dedicated Prometheus
// registry, dispatching on TelemetryEvent.Name.
type Metrics struct {
	registry *prometheus.Registry

	samples      *prometheus.CounterVec
	resamples    *prometheus.CounterVec
	redFlags     *prometheus.CounterVec
	voteMargins  *prometheus.HistogramVec
	effectiveK   *prometheus.GaugeVec
	kernelRuns   *prometheus.CounterVec
	kernelErrors *prometheus.CounterVec
	pauses       *prometheus.CounterVec
}

// Event names recorded by the runner/kernel/sampler layers.
const (
	EventSampleDrawn   = "sample_drawn"
	EventResample      = "resample"
	EventRedFlag       = "red_flag"
	EventVoteDecided   = "vote_decided"
	EventEffectiveK    = "effective_k"
	EventKernelRun     = "kernel_run"
	EventKernelError   = "kernel_error"
	EventSessionPaused = "session_paused"
)

// NewMetrics builds a Metrics sink and registers its collectors on a fresh
// registry, namespaced "microfactory".
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.samples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microfactory", Subsystem: "sampler", Name: "samples_total",
		Help: "Total number of LLM samples drawn",
	}, []string{"phase", "agent_kind"})

	m.resamples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microfactory", Subsystem: "sampler", Name: "resamples_total",
		Help: "Total number of resamples triggered by a red flag",
	}, []string{"phase", "agent_kind"})

	m.redFlags = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microfactory", Subsystem: "redflag", Name: "incidents_total",
		Help: "Total number of red-flagged candidates",
	}, []string{"phase", "flagger"})

	m.voteMargins = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "microfactory", Subsystem: "vote", Name: "margin",
		Help:    "Winning margin of first-to-ahead-by-k votes",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	}, []string{"phase"})

	m.effectiveK = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "microfactory", Subsystem: "vote", Name: "effective_k",
		Help: "Adaptive k currently in effect for a phase",
	}, []string{"phase"})

	m.kernelRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microfactory", Subsystem: "kernel", Name: "runs_total",
		Help: "Total number of kernel invocations",
	}, []string{"phase"})

	m.kernelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microfactory", Subsystem: "kernel", Name: "errors_total",
		Help: "Total number of kernel invocations that returned an error",
	}, []string{"phase"})

	m.pauses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microfactory", Subsystem: "runner", Name: "pauses_total",
		Help: "Total number of sessions suspended, by trigger",
	}, []string{"trigger"})

	m.registry.MustRegister(m.samples, m.resamples, m.redFlags, m.voteMargins,
		m.effectiveK, m.kernelRuns, m.kernelErrors, m.pauses)
	return m
}

var _ ports.TelemetrySink = (*Metrics)(nil)

// Record implements ports.TelemetrySink, fanning TelemetryEvent.Name out to
// the matching Prometheus collector. Unrecognized event names, and fields
// of the wrong type, are silently ignored rather than causing a panic in
// what is deliberately a best-effort observability path.
func (m *Metrics) Record(_ context.Context, event ports.TelemetryEvent) {
	switch event.Name {
	case EventSampleDrawn:
		m.samples.WithLabelValues(str(event.Fields, "phase"), str(event.Fields, "agent_kind")).Inc()
	case EventResample:
		m.resamples.WithLabelValues(str(event.Fields, "phase"), str(event.Fields, "agent_kind")).Inc()
	case EventRedFlag:
		m.redFlags.WithLabelValues(str(event.Fields, "phase"), str(event.Fields, "flagger")).Inc()
	case EventVoteDecided:
		if margin, ok := num(event.Fields, "margin"); ok {
			m.voteMargins.WithLabelValues(str(event.Fields, "phase")).Observe(margin)
		}
	case EventEffectiveK:
		if k, ok := num(event.Fields, "k"); ok {
			m.effectiveK.WithLabelValues(str(event.Fields, "phase")).Set(k)
		}
	case EventKernelRun:
		m.kernelRuns.WithLabelValues(str(event.Fields, "phase")).Inc()
	case EventKernelError:
		m.kernelErrors.WithLabelValues(str(event.Fields, "phase")).Inc()
	case EventSessionPaused:
		m.pauses.WithLabelValues(str(event.Fields, "trigger")).Inc()
	}
}

// Handler returns the /metrics HTTP handler for this sink's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func str(fields map[string]any, key string) string {
	v, ok := fields[key].(string)
	if !ok {
		return "unknown"
	}
	return v
}

func num(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
