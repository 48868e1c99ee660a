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

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/tschacht/microfactory/internal/composition"
	"github.com/tschacht/microfactory/internal/domain"
)

// isTerminal reports whether f is attached to an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// driveInteractively keeps resuming a step-by-step session on the current
// terminal: each time it pauses, it prints the wait reason and blocks for
// Enter before resuming, until the session finishes or the operator backs
// out with Ctrl-C. On a non-interactive stdin it returns wctx as-is after
// the first pause, leaving `microfactory resume` to continue it later.
func driveInteractively(ctx context.Context, svc *composition.Service, wctx *domain.Context) (*domain.Context, error) {
	if !isTerminal(os.Stdin) {
		return wctx, nil
	}
	reader := bufio.NewReader(os.Stdin)
	for wctx.WaitState != nil {
		fmt.Printf("paused: %s (%s) - press Enter to resume, Ctrl-C to stop\n", wctx.WaitState.Trigger, wctx.WaitState.Details)
		if _, err := reader.ReadString('\n'); err != nil {
			return wctx, nil
		}
		if err := svc.Resume(ctx, wctx.SessionID); err != nil {
			return wctx, err
		}
		resumed, err := svc.Checkpointer.LoadContext(ctx, wctx.SessionID)
		if err != nil {
			return wctx, err
		}
		wctx = resumed
	}
	return wctx, nil
}
