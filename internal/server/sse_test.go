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
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStreamWithoutNotifierReturns503(t *testing.T) {
	s := New(newFakeSessions(), nil, ":0")
	req := httptest.NewRequest(http.MethodGet, "/sessions/stream", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotifierPublishReachesSubscribers(t *testing.T) {
	n := NewNotifier()
	ch := n.subscribe()
	defer n.unsubscribe(ch)

	n.Publish(StatusChange{SessionID: "sess-1", Status: "done"})

	select {
	case change := <-ch:
		assert.Equal(t, "sess-1", change.SessionID)
		assert.Equal(t, "done", change.Status)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received published change")
	}
}

func TestNotifierPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	n := NewNotifier()
	ch := n.subscribe()
	defer n.unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(StatusChange{SessionID: "sess-1", Status: "running"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestHandleStreamEmitsPublishedEvents(t *testing.T) {
	s := New(newFakeSessions(), nil, ":0", WithNotifier(NewNotifier()))
	ts := httptest.NewServer(s.router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sessions/stream", nil)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		s.notifier.mu.Lock()
		defer s.notifier.mu.Unlock()
		return len(s.notifier.subs) > 0
	}, time.Second, 10*time.Millisecond)

	s.notifier.Publish(StatusChange{SessionID: "sess-9", Status: "suspended"})

	reader := bufio.NewReader(resp.Body)
	var sawData bool
	for i := 0; i < 10; i++ {
		line, rerr := reader.ReadString('\n')
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "sess-9") {
			sawData = true
			break
		}
		if rerr != nil {
			break
		}
	}
	assert.True(t, sawData)
}
