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
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// StatusChange is one session transition broadcast to stream subscribers.
type StatusChange struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Notifier fans a status change out to every currently connected SSE
// subscriber. Publish is safe to call from the runner's checkpoint path;
// subscribers that fall behind simply miss intermediate events rather than
// blocking the publisher, since each subscriber channel is buffered and
// Publish drops events a full channel can't accept.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan StatusChange]struct{}
}

// NewNotifier returns an empty Notifier ready for Subscribe/Publish.
func NewNotifier() *Notifier {
	return &Notifier{subs: map[chan StatusChange]struct{}{}}
}

// Publish broadcasts change to every live subscriber.
func (n *Notifier) Publish(change StatusChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (n *Notifier) subscribe() chan StatusChange {
	ch := make(chan StatusChange, 16)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) unsubscribe(ch chan StatusChange) {
	n.mu.Lock()
	delete(n.subs, ch)
	n.mu.Unlock()
	close(ch)
}

// handleStream upgrades the request to a long-lived SSE connection emitting
// one "data: {...}" frame per published StatusChange until the client
// disconnects. The ResponseWriter is never wrapped, so http.Flusher keeps
// working.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming is not enabled on this server")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.notifier.subscribe()
	defer s.notifier.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
