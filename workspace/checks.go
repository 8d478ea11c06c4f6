/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
)

// MaxCheckOutput is the number of trailing characters of check output kept.
const MaxCheckOutput = 8000

// Command is one subprocess invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes a command in a directory and returns its exit code and
// combined stdout and stderr. A non-zero exit is not an error.
type Runner interface {
	Run(ctx context.Context, dir string, cmd Command) (int, string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, cmd Command) (int, string, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = dir
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, out.String(), nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), out.String(), nil
	default:
		return -1, out.String(), err
	}
}

// Checks describes the project validation steps. They run only when
// Manifest exists at the repository root.
type Checks struct {
	Manifest string
	Install  Command
	Lint     Command
	Build    Command
}

// DefaultChecks validates JavaScript projects with npm.
var DefaultChecks = Checks{
	Manifest: "package.json",
	Install:  Command{Name: "npm", Args: []string{"ci", "--no-audit", "--no-fund"}},
	Lint:     Command{Name: "npm", Args: []string{"run", "-s", "lint"}},
	Build:    Command{Name: "npm", Args: []string{"run", "-s", "build"}},
}

// CheckReport holds exit codes and output tails from RunChecks. When the
// manifest is absent only Note is set.
type CheckReport struct {
	InstallRC int
	LintRC    int
	Lint      string
	BuildRC   int
	Build     string
	Note      string
}

// Skipped reports whether the checks did not run.
func (r *CheckReport) Skipped() bool { return r.Note != "" }

// Map renders the report as a tool result.
func (r *CheckReport) Map() map[string]any {
	if r.Skipped() {
		return map[string]any{"note": r.Note}
	}
	return map[string]any{
		"npm_ci":   r.InstallRC,
		"lint_rc":  r.LintRC,
		"lint":     r.Lint,
		"build_rc": r.BuildRC,
		"build":    r.Build,
	}
}

// RunChecks runs install, lint and build in order. Every step runs even if
// an earlier one fails; the exit codes are reported, not acted on.
func (w *Workspace) RunChecks(ctx context.Context) (*CheckReport, error) {
	log := clog.FromContext(ctx)

	if _, err := os.Stat(filepath.Join(w.root, w.checks.Manifest)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking for %s: %w", w.checks.Manifest, err)
		}
		log.Infof("No %s found, skipping checks", w.checks.Manifest)
		return &CheckReport{Note: fmt.Sprintf("No %s; skipping JS checks.", w.checks.Manifest)}, nil
	}

	report := &CheckReport{}
	report.InstallRC, _ = w.run(ctx, w.checks.Install)
	report.LintRC, report.Lint = w.run(ctx, w.checks.Lint)
	report.BuildRC, report.Build = w.run(ctx, w.checks.Build)

	if w.state == Modified {
		w.state = Checked
	}
	log.With("install_rc", report.InstallRC).
		With("lint_rc", report.LintRC).
		With("build_rc", report.BuildRC).
		Info("Ran project checks")
	return report, nil
}

// run executes one step. A command that cannot be started is reported as
// exit code -1 with the error as its output.
func (w *Workspace) run(ctx context.Context, cmd Command) (int, string) {
	rc, out, err := w.runner.Run(ctx, w.root, cmd)
	if err != nil {
		clog.FromContext(ctx).Warnf("Running %s: %v", cmd, err)
		out += err.Error()
		rc = -1
	}
	return rc, Tail(out, MaxCheckOutput)
}

// Tail returns the last n characters of s.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
