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

package config

import (
	"os"
	"path/filepath"
)

// Home resolves the Microfactory home directory: MICROFACTORY_HOME if set,
// otherwise "~/.microfactory". Persisted state (sessions database, logs,
// checkpoints) all live under this root.
func Home() string {
	if v := os.Getenv("MICROFACTORY_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".microfactory"
	}
	return filepath.Join(home, ".microfactory")
}

// SessionsDBPath returns the default sqlite session store path under Home.
func SessionsDBPath() string {
	return filepath.Join(Home(), "sessions.sqlite3")
}

// LogDir returns the default per-session log directory under Home.
func LogDir() string {
	return filepath.Join(Home(), "logs")
}

// EnsureHome creates Home and its standard subdirectories if missing.
func EnsureHome() error {
	for _, dir := range []string{Home(), LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
