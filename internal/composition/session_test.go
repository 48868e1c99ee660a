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

package composition_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/composition"
	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/sessionstore"
)

func newTestStore(t *testing.T) *sessionstore.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := sessionstore.Open(sessionstore.DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Domains: map[string]config.DomainConfig{
			"code": testDomainConfig(),
		},
	}
	return cfg
}

// TestServiceStartThenResumeRoundTrips drives a session to a step-by-step
// pause, checkpoints it to a real sqlite-backed store, then resumes it from
// that checkpoint and drives it to completion - exercising the same
// Builder.BuildRunner call on both sides of the suspend/resume boundary
// the way server.handleResumeSession does in production.
func TestServiceStartThenResumeRoundTrips(t *testing.T) {
	store := newTestStore(t)
	checkpointer := sessionstore.NewCheckpointer(store)

	builder := newTestBuilder(t, "build the thing\n", "<file path=\"out.txt\">hello</file>\nPASS")
	builder.Checkpointer = checkpointer

	var transitions []string
	svc := composition.NewService(testConfig(), builder, checkpointer, runner.Thresholds{StepByStep: true})
	svc.OnTransition = func(sessionID, status string) {
		transitions = append(transitions, status)
	}

	wctx, err := svc.Start(context.Background(), "code", "build a CLI", "stub", "m")
	require.NoError(t, err)
	require.NotNil(t, wctx.WaitState)
	assert.Contains(t, transitions, "suspended")

	require.NoError(t, checkpointer.Checkpoint(context.Background(), wctx))

	// Resume through a second Service with no step-by-step pause so the
	// rebuilt runner drives the rest of the steps to completion instead of
	// immediately re-suspending on the very next work item.
	resumeSvc := composition.NewService(testConfig(), builder, checkpointer, runner.Thresholds{})
	require.NoError(t, resumeSvc.Resume(context.Background(), wctx.SessionID))

	resumed, err := checkpointer.LoadContext(context.Background(), wctx.SessionID)
	require.NoError(t, err)
	assert.Nil(t, resumed.WaitState)

	root := resumed.Steps["root"]
	require.NotNil(t, root)
	assert.True(t, root.Status.IsTerminal())
}

func TestServiceResumeRejectsNonSuspendedSession(t *testing.T) {
	store := newTestStore(t)
	checkpointer := sessionstore.NewCheckpointer(store)
	builder := newTestBuilder(t, "build the thing\n", "<file path=\"out.txt\">hello</file>\nPASS")
	builder.Checkpointer = checkpointer

	svc := composition.NewService(testConfig(), builder, checkpointer, runner.Thresholds{})
	wctx, err := svc.Start(context.Background(), "code", "build a CLI", "stub", "m")
	require.NoError(t, err)
	require.Nil(t, wctx.WaitState)
	require.NoError(t, checkpointer.Checkpoint(context.Background(), wctx))

	err = svc.Resume(context.Background(), wctx.SessionID)
	assert.Error(t, err)
}

// TestServiceStartSendsTriviallyAtomicRootStraightToSolve exercises the
// granularity gate (normally applied only to freshly decomposed children)
// against the root step itself: a domain configured with a generous
// min_words_per_leaf must route a short root prompt straight to Solve
// instead of Decompose.
func TestServiceStartSendsTriviallyAtomicRootStraightToSolve(t *testing.T) {
	store := newTestStore(t)
	checkpointer := sessionstore.NewCheckpointer(store)
	builder := newTestBuilder(t, "should never be called\n", "<file path=\"out.txt\">hello</file>")
	builder.Checkpointer = checkpointer

	cfg := testConfig()
	domainCfg := cfg.Domains["code"]
	domainCfg.StepGranularity = config.StepGranularity{MaxDepth: 6, MinWordsPerLeaf: 50}
	cfg.Domains["code"] = domainCfg

	svc := composition.NewService(cfg, builder, checkpointer, runner.Thresholds{})
	wctx, err := svc.Start(context.Background(), "code", "fix the typo", "stub", "m")
	require.NoError(t, err)

	root := wctx.Steps["root"]
	require.NotNil(t, root)
	assert.True(t, root.Status.IsTerminal())
	assert.Len(t, wctx.Steps, 1, "root step must have gone straight to Solve, never decomposed into children")
}

func TestServiceStartRejectsUnknownDomain(t *testing.T) {
	store := newTestStore(t)
	checkpointer := sessionstore.NewCheckpointer(store)
	builder := newTestBuilder(t, "", "")
	svc := composition.NewService(testConfig(), builder, checkpointer, runner.Thresholds{})

	_, err := svc.Start(context.Background(), "unknown-domain", "prompt", "stub", "m")
	assert.Error(t, err)
}
