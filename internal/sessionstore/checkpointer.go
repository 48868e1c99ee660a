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

package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/ports"
)

// Checkpointer adapts a Store into runner.Checkpointer by serializing the
// whole workflow Context to JSON on every call.
type Checkpointer struct {
	Store *Store
}

func NewCheckpointer(store *Store) *Checkpointer {
	return &Checkpointer{Store: store}
}

func (c *Checkpointer) Checkpoint(ctx context.Context, wctx *domain.Context) error {
	payload, err := json.Marshal(wctx)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal context %s: %w", wctx.SessionID, err)
	}
	status := sessionStatus(wctx)
	return c.Store.Save(ctx, ports.SessionSnapshot{
		ID:       wctx.SessionID,
		Status:   status,
		Provider: wctx.Provider,
		Model:    wctx.Model,
		Domain:   wctx.Domain,
		Payload:  payload,
	})
}

// LoadContext fetches and deserializes a session snapshot back into a
// workflow Context.
func (c *Checkpointer) LoadContext(ctx context.Context, id string) (*domain.Context, error) {
	snap, err := c.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var wctx domain.Context
	if err := json.Unmarshal(snap.Payload, &wctx); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal context %s: %w", id, err)
	}
	return &wctx, nil
}

func sessionStatus(wctx *domain.Context) string {
	if wctx.WaitState != nil {
		return "suspended"
	}
	for _, step := range wctx.Steps {
		if step.Depth != 0 {
			continue
		}
		if !step.Status.IsTerminal() {
			break
		}
		if step.Status == domain.StepFailed {
			return "failed"
		}
		return "done"
	}
	return "running"
}
