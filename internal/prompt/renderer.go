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

// Package prompt implements the ports.PromptRenderer adapter over Go's
// standard text/template. No example in the pack pulls in a third-party
// templating engine, and text/template's {{.field}} syntax is already the
// idiom the teacher's own YAML-driven configs assume elsewhere, so this
// package is deliberately stdlib-only (documented in DESIGN.md).
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Renderer loads named templates from a directory on first use and caches
// the parsed result.
type Renderer struct {
	Dir string

	mu        sync.RWMutex
	templates map[string]*template.Template
}

func New(dir string) *Renderer {
	return &Renderer{Dir: dir, templates: map[string]*template.Template{}}
}

func (r *Renderer) Render(ctx context.Context, templateName string, data map[string]any) (string, error) {
	tmpl, err := r.load(templateName)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: execute template %q: %w", templateName, err)
	}
	return buf.String(), nil
}

func (r *Renderer) load(name string) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.templates[name]; ok {
		return tmpl, nil
	}

	path := filepath.Join(r.Dir, name+".tmpl")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: load template %q: %w", name, err)
	}
	parsed, err := template.New(name).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("prompt: parse template %q: %w", name, err)
	}
	r.templates[name] = parsed
	return parsed, nil
}

// StaticRenderer renders a fixed map of templateName -> raw template
// string without touching the filesystem, for tests and the default
// built-in prompts shipped with each domain profile.
type StaticRenderer struct {
	Templates map[string]string
}

func (r StaticRenderer) Render(ctx context.Context, templateName string, data map[string]any) (string, error) {
	raw, ok := r.Templates[templateName]
	if !ok {
		return "", fmt.Errorf("prompt: unknown template %q", templateName)
	}
	tmpl, err := template.New(templateName).Option("missingkey=zero").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("prompt: parse template %q: %w", templateName, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: execute template %q: %w", templateName, err)
	}
	return buf.String(), nil
}
