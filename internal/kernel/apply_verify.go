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

package kernel

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/tschacht/microfactory/internal/domain"
	"github.com/tschacht/microfactory/internal/ports"
)

var fileBlockPattern = regexp.MustCompile(`(?s)<file\s+path="([^"]+)"\s*>(.*?)</file>`)

// ExtractFileBlocks parses `<file path="...">content</file>` blocks out of
// a winning solution's output.
func ExtractFileBlocks(output string) map[string]string {
	matches := fileBlockPattern.FindAllStringSubmatch(output, -1)
	files := make(map[string]string, len(matches))
	for _, m := range matches {
		files[m[1]] = strings.TrimPrefix(strings.TrimSuffix(m[2], "\n"), "\n")
	}
	return files
}

// Applier names how a file block's content is written to the workspace.
const (
	ApplierOverwriteFile = "overwrite_file"
	ApplierPatchFile     = "patch_file"
)

// ApplyVerifyKernel writes the winning solution's file blocks to the
// workspace, then runs the configured verifier command and judges the
// step by its exit code. With no verifier configured the step passes
// automatically once applied.
type ApplyVerifyKernel struct {
	FileSystem ports.FileSystem
	Root       string // workspace root, used as the verifier command's working directory
	Applier    string // ApplierOverwriteFile (default) or ApplierPatchFile
	Verifier   string // shell-like command spec; empty means auto-pass
}

func (k *ApplyVerifyKernel) Run(ctx context.Context, wctx *domain.Context, stepID string) (NextAction, error) {
	step, err := stepOrErr(wctx, stepID)
	if err != nil {
		return NextAction{}, err
	}
	if step.WinningOutput == "" {
		return NextAction{}, fmt.Errorf("apply/verify %s: no winning output to apply", stepID)
	}

	files := ExtractFileBlocks(step.WinningOutput)
	for path, content := range files {
		if err := k.applyFile(ctx, path, content); err != nil {
			return NextAction{}, fmt.Errorf("apply/verify %s: apply %q: %w", stepID, path, err)
		}
	}

	step.Status = domain.StepVerifying
	if k.Verifier == "" {
		step.VerifierOutput = "auto-pass: no verifier configured"
		step.Status = domain.StepDone
		return noMargin(), nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", k.Verifier)
	cmd.Dir = k.Root
	output, runErr := cmd.CombinedOutput()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return NextAction{}, fmt.Errorf("apply/verify %s: run verifier %q: %w", stepID, k.Verifier, runErr)
		}
	}
	step.VerifierOutput = fmt.Sprintf("exit_code=%d\n%s", exitCode, output)

	if exitCode == 0 {
		step.Status = domain.StepDone
	} else {
		step.Status = domain.StepFailed
	}
	return noMargin(), nil
}

// applyFile writes content to path per the configured applier mode.
// ApplierPatchFile treats content as a unified diff applied against the
// file's current content (missing files start empty, so a diff of pure
// additions creates one); any other value, including the zero value,
// overwrites the file outright.
func (k *ApplyVerifyKernel) applyFile(ctx context.Context, path, content string) error {
	if k.Applier != ApplierPatchFile {
		return k.FileSystem.WriteFile(ctx, path, []byte(content))
	}
	original, err := k.FileSystem.ReadFile(ctx, path)
	if err != nil {
		original = nil
	}
	patched, err := applyUnifiedDiff(string(original), content)
	if err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	return k.FileSystem.WriteFile(ctx, path, []byte(patched))
}

// applyUnifiedDiff applies a unified-diff body to original, matching
// context/removal lines by content rather than the hunk headers' line
// numbers (sufficient for the single-file, single-hunk-stream diffs a
// solver emits; it does not attempt fuzzy offset recovery).
func applyUnifiedDiff(original, diff string) (string, error) {
	origLines := strings.Split(original, "\n")
	var out []string
	oi := 0
	for _, line := range strings.Split(diff, "\n") {
		if line == "" || strings.HasPrefix(line, "@@") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			continue
		}
		switch line[0] {
		case ' ':
			want := line[1:]
			if oi >= len(origLines) || origLines[oi] != want {
				return "", fmt.Errorf("context mismatch at original line %d", oi+1)
			}
			out = append(out, origLines[oi])
			oi++
		case '-':
			want := line[1:]
			if oi >= len(origLines) || origLines[oi] != want {
				return "", fmt.Errorf("removal mismatch at original line %d", oi+1)
			}
			oi++
		case '+':
			out = append(out, line[1:])
		default:
			return "", fmt.Errorf("unrecognized diff line %q", line)
		}
	}
	out = append(out, origLines[oi:]...)
	return strings.Join(out, "\n"), nil
}
