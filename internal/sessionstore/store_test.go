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

package sessionstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/sessionstore"
)

func openTestStore(t *testing.T) *sessionstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.sqlite3")
	store, err := sessionstore.Open(sessionstore.DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	snap := ports.SessionSnapshot{
		ID:        "sess-1",
		Status:    "running",
		Provider:  "openai",
		Model:     "gpt-4o",
		Domain:    "code",
		Payload:   []byte(`{"prompt":"hello"}`),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, snap.Status, loaded.Status)
	assert.Equal(t, snap.Provider, loaded.Provider)
	assert.JSONEq(t, string(snap.Payload), string(loaded.Payload))
}

func TestSaveUpsertsExistingID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, ports.SessionSnapshot{ID: "sess-1", Status: "running", Payload: []byte("{}")}))
	require.NoError(t, store.Save(ctx, ports.SessionSnapshot{ID: "sess-1", Status: "suspended", Payload: []byte(`{"x":1}`)}))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "suspended", loaded.Status)

	all, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestListOrdersByMostRecentlyUpdated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, store.Save(ctx, ports.SessionSnapshot{ID: "sess-old", Payload: []byte("{}"), UpdatedAt: older}))
	require.NoError(t, store.Save(ctx, ports.SessionSnapshot{ID: "sess-new", Payload: []byte("{}"), UpdatedAt: newer}))

	all, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sess-new", all[0].ID)
	assert.Equal(t, "sess-old", all[1].ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, ports.SessionSnapshot{ID: "sess-1", Payload: []byte("{}")}))

	require.NoError(t, store.Delete(ctx, "sess-1"))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestCheckpointerRoundTripsContext(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cp := sessionstore.NewCheckpointer(store)

	wctx := domain.NewContext("sess-42", "build a thing", "code", "openai", "gpt-4o", "step-root", time.Now().UnixMilli())
	require.NoError(t, cp.Checkpoint(ctx, wctx))

	loaded, err := cp.LoadContext(ctx, "sess-42")
	require.NoError(t, err)
	assert.Equal(t, wctx.SessionID, loaded.SessionID)
	assert.Equal(t, wctx.Prompt, loaded.Prompt)
	assert.Len(t, loaded.Steps, 1)
}

func TestCheckpointerReflectsSuspendedStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cp := sessionstore.NewCheckpointer(store)

	wctx := domain.NewContext("sess-43", "build a thing", "code", "openai", "gpt-4o", "step-root", time.Now().UnixMilli())
	wctx.WaitState = &domain.WaitState{StepID: "step-root", Trigger: domain.TriggerStepByStep}
	require.NoError(t, cp.Checkpoint(ctx, wctx))

	snap, err := store.Load(ctx, "sess-43")
	require.NoError(t, err)
	assert.Equal(t, "suspended", snap.Status)
}
