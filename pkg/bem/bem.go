// Package bem defines the boundary-element model collaborators of the
// source pipeline. The BEM itself is computed by external tools; this
// package only checks for its files and launches the tool when needed.
package bem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"bv2src/pkg/logging"
)

// Checker reports whether a subject's BEM is already available
type Checker interface {
	Exists(ctx context.Context, subject string) (bool, error)
}

// Builder computes a subject's BEM model and solution
type Builder interface {
	Build(ctx context.Context, subject string) error
}

// ModelFile returns the file name of the BEM model of a subject
func ModelFile(subject string) string { return subject + "-bem-model.fif" }

// SolutionFile returns the file name of the BEM solution of a subject
func SolutionFile(subject string) string { return subject + "-bem-sol.fif" }

// FileChecker looks for the model and solution files in the subject's BEM directory
type FileChecker struct {
	// Dir returns the BEM directory of a subject
	Dir func(subject string) string
}

// Exists reports true only when both the model and the solution exist
func (c FileChecker) Exists(ctx context.Context, subject string) (bool, error) {
	dir := c.Dir(subject)
	for _, name := range []string{ModelFile(subject), SolutionFile(subject)} {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			logging.FromContext(ctx).Debug().Str("subject", subject).Str("path", path).Msg("BEM file missing")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check BEM file %s: %w", path, err)
		}
	}
	return true, nil
}

// ExecBuilder runs an external command to compute the BEM. Every argument
// has "{subject}" replaced by the subject id.
type ExecBuilder struct {
	Command string
	Args    []string

	// Env is appended to the process environment
	Env []string
}

// Build runs the command and fails with its output when it exits non-zero
func (b ExecBuilder) Build(ctx context.Context, subject string) error {
	if b.Command == "" {
		return fmt.Errorf("no BEM command configured for subject %s", subject)
	}

	args := make([]string, len(b.Args))
	for i, a := range b.Args {
		args[i] = strings.ReplaceAll(a, "{subject}", subject)
	}

	cmd := exec.CommandContext(ctx, b.Command, args...)
	cmd.Env = append(os.Environ(), b.Env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logging.FromContext(ctx).Info().
		Str("subject", subject).
		Str("command", b.Command).
		Strs("args", args).
		Msg("building BEM")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("BEM command %s failed for subject %s: %w: %s",
			b.Command, subject, err, strings.TrimSpace(out.String()))
	}
	return nil
}
