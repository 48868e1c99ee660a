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
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/tschacht/microfactory/internal/config"
	"github.com/tschacht/microfactory/internal/runner"
	"github.com/tschacht/microfactory/internal/server"
	"github.com/tschacht/microfactory/internal/sessionstore"
	"github.com/tschacht/microfactory/internal/telemetry"
)

// ServeCmd exposes the session store over HTTP: listing, inspection,
// resume-by-POST, and an SSE stream of status changes.
type ServeCmd struct {
	Bind           string `help:"Address to bind." default:"0.0.0.0"`
	Port           int    `help:"Port to listen on." default:"8080"`
	Limit          int    `help:"Default page size for GET /sessions." default:"50"`
	PollIntervalMs int    `name:"poll-interval-ms" help:"How often to re-publish live session status on /sessions/stream." default:"5000"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("serve: --config is required")
	}
	config.LoadDotEnvForConfig(cli.Config)
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sessionstore.Open(sessionstore.DialectSQLite, config.SessionsDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	notifier := server.NewNotifier()
	telemetryMetrics := telemetry.NewMetrics()
	svc := buildService(cfg, store, config.Home(), ".", telemetryMetrics, runner.Thresholds{})
	svc.OnTransition = func(sessionID, status string) {
		notifier.Publish(server.StatusChange{SessionID: sessionID, Status: status})
	}

	if watchCh, err := config.Watch(ctx, cli.Config); err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		go watchConfig(ctx, cli.Config, watchCh, svc)
	}

	go heartbeat(ctx, store, notifier, time.Duration(c.PollIntervalMs)*time.Millisecond)

	addr := fmt.Sprintf("%s:%d", c.Bind, c.Port)
	srv := server.New(store, svc, addr, server.WithNotifier(notifier), server.WithDefaultLimit(c.Limit))
	return srv.ListenAndServe(ctx)
}

// watchConfig reloads the domain config file on change and swaps it into
// svc, so a session started after the reload picks up the new wiring. A
// session already running keeps whatever config it was built with.
func watchConfig(ctx context.Context, path string, ch <-chan struct{}, svc interface{ SetConfig(*config.Config) }) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			cfg, err := config.Load(path)
			if err != nil {
				slog.Error("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			svc.SetConfig(cfg)
			slog.Info("config reloaded", "path", path)
		}
	}
}

// heartbeat re-publishes the current status of the sessions store.List
// returns under its default limit (the 100 most recently updated) every
// interval, so an SSE client that connects between transitions still sees
// a live picture without polling GET /sessions itself.
func heartbeat(ctx context.Context, store *sessionstore.Store, notifier *server.Notifier, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snaps, err := store.List(ctx, 0)
			if err != nil {
				slog.Warn("heartbeat: list sessions", "error", err)
				continue
			}
			for _, snap := range snaps {
				notifier.Publish(server.StatusChange{SessionID: snap.ID, Status: snap.Status})
			}
		}
	}
}
