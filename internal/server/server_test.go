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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tschacht/microfactory/internal/ports"
	"github.com/tschacht/microfactory/internal/sessionstore"
)

type fakeSessions struct {
	snaps map[string]ports.SessionSnapshot
}

func newFakeSessions() *fakeSessions { return &fakeSessions{snaps: map[string]ports.SessionSnapshot{}} }

func (f *fakeSessions) Save(ctx context.Context, snap ports.SessionSnapshot) error {
	f.snaps[snap.ID] = snap
	return nil
}

func (f *fakeSessions) Load(ctx context.Context, id string) (*ports.SessionSnapshot, error) {
	snap, ok := f.snaps[id]
	if !ok {
		return nil, sessionstore.ErrNotFound
	}
	return &snap, nil
}

func (f *fakeSessions) List(ctx context.Context, limit int) ([]ports.SessionSnapshot, error) {
	out := make([]ports.SessionSnapshot, 0, len(f.snaps))
	for _, snap := range f.snaps {
		out = append(out, snap)
	}
	return out, nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	delete(f.snaps, id)
	return nil
}

type fakeResumer struct {
	called chan string
}

func (f *fakeResumer) Resume(ctx context.Context, sessionID string) error {
	f.called <- sessionID
	return nil
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := New(newFakeSessions(), nil, ":0")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListSessionsReturnsSummaries(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Save(context.Background(), ports.SessionSnapshot{
		ID: "sess-1", Status: "done", Provider: "openai", Model: "gpt-5", Domain: "coding",
		Payload: []byte("{}"), UpdatedAt: time.Now(),
	}))
	s := New(sessions, nil, ":0")

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []sessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "sess-1", out[0].ID)
	assert.Equal(t, "done", out[0].Status)
}

func TestHandleGetSessionMissingReturns404(t *testing.T) {
	s := New(newFakeSessions(), nil, ":0")
	req := httptest.NewRequest(http.MethodGet, "/sessions/nope", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResumeSessionDispatchesToResumer(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Save(context.Background(), ports.SessionSnapshot{ID: "sess-1", Status: "suspended"}))
	resumer := &fakeResumer{called: make(chan string, 1)}
	s := New(sessions, resumer, ":0")

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/resume", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case id := <-resumer.called:
		assert.Equal(t, "sess-1", id)
	case <-time.After(time.Second):
		t.Fatal("resumer was never invoked")
	}
}

func TestHandleResumeSessionMissingReturns404(t *testing.T) {
	resumer := &fakeResumer{called: make(chan string, 1)}
	s := New(newFakeSessions(), resumer, ":0")

	req := httptest.NewRequest(http.MethodPost, "/sessions/nope/resume", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResumeSessionWithoutResumerReturns503(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Save(context.Background(), ports.SessionSnapshot{ID: "sess-1"}))
	s := New(sessions, nil, ":0")

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/resume", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleListSessionsRejectsNegativeLimit(t *testing.T) {
	s := New(newFakeSessions(), nil, ":0")
	req := httptest.NewRequest(http.MethodGet, "/sessions?limit=-1", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
