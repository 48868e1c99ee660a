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
	"context"
	"encoding/json"
	"fmt"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/sessionstore"
)

// StatusCmd reports on one session, or lists recent sessions.
type StatusCmd struct {
	SessionID string `name:"session-id" help:"Show this session only."`
	JSON      bool   `help:"Print the stable JSON export instead of a human summary."`
	Limit     int    `help:"Maximum sessions to list (0 = store default)."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	store, err := sessionstore.Open(sessionstore.DialectSQLite, config.SessionsDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if c.SessionID != "" {
		snap, err := store.Load(ctx, c.SessionID)
		if err != nil {
			return err
		}
		exp, err := sessionstore.ExportSnapshot(*snap)
		if err != nil {
			return err
		}
		if c.JSON {
			out, err := json.Marshal(exp)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		fmt.Printf("%s  %-9s  domain=%s provider=%s model=%s\n", exp.SessionID, exp.Status, exp.Domain, exp.Provider, exp.Model)
		return nil
	}

	snaps, err := store.List(ctx, c.Limit)
	if err != nil {
		return err
	}
	if c.JSON {
		out, err := json.Marshal(snaps)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	for _, snap := range snaps {
		fmt.Printf("%s  %-9s  domain=%s provider=%s model=%s updated=%s\n",
			snap.ID, snap.Status, snap.Domain, snap.Provider, snap.Model, snap.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
