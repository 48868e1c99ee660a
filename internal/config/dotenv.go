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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the first existing .env file among paths into the
// process environment without overwriting variables already set, then
// falls through to "./.env" and "~/.env" if none of paths existed. It
// never errors when no .env file is found - a missing .env is the normal
// case in production where keys come from the real environment.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if loadIfExists(p) {
			return
		}
	}
	if loadIfExists(".env") {
		return
	}
	if home, err := os.UserHomeDir(); err == nil {
		loadIfExists(filepath.Join(home, ".env"))
	}
}

// LoadDotEnvForConfig loads a .env file colocated with a config file
// before falling back to the standard search order, so `microfactory run
// --config ./profiles/code.yaml` picks up a sibling .env automatically.
func LoadDotEnvForConfig(configPath string) {
	if configPath == "" {
		LoadDotEnv()
		return
	}
	LoadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"))
}

func loadIfExists(path string) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("failed to load .env file", "path", path, "error", err)
		return false
	}
	slog.Debug("loaded .env file", "path", path)
	return true
}

// ProviderEnvVar maps a provider name to the environment variable that
// holds its API key, per the externally documented resolution order.
func ProviderEnvVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "grok":
		return "XAI_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey returns the API key for provider, preferring an explicit
// flag value, then the provider's environment variable (populated by
// LoadDotEnv beforehand).
func ResolveAPIKey(provider, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envVar := ProviderEnvVar(provider); envVar != "" {
		return os.Getenv(envVar)
	}
	return ""
}
