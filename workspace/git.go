/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/waigani/diffparser"
)

// ErrNothingToCommit is returned by CommitAll when the working tree matches HEAD.
var ErrNothingToCommit = errors.New("nothing to commit")

var invalidBranchChars = regexp.MustCompile(`[\x00-\x20~^:?*\[\\\x7f]`)

// ValidateBranchName applies the subset of git's ref-name rules that matter
// for names chosen by a model.
func ValidateBranchName(name string) error {
	switch {
	case name == "":
		return errors.New("branch name cannot be empty")
	case invalidBranchChars.MatchString(name):
		return fmt.Errorf("branch name %q contains invalid characters", name)
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"):
		return fmt.Errorf("branch name %q has an invalid leading or trailing character", name)
	case strings.HasSuffix(name, ".lock"), strings.HasSuffix(name, "."):
		return fmt.Errorf("branch name %q has an invalid suffix", name)
	case strings.Contains(name, ".."), strings.Contains(name, "//"), strings.Contains(name, "@{"):
		return fmt.Errorf("branch name %q contains an invalid sequence", name)
	}
	return nil
}

// HasChanges reports whether the working tree differs from HEAD, including
// untracked files.
func (w *Workspace) HasChanges() (bool, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("getting worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("getting status: %w", err)
	}
	return !status.IsClean(), nil
}

// BranchExists reports whether a local branch named name exists.
func (w *Workspace) BranchExists(name string) (bool, error) {
	_, err := w.repo.Reference(plumbing.NewBranchReferenceName(name), false)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("looking up branch %s: %w", name, err)
	}
}

// CreateBranch creates name at HEAD and checks it out, keeping uncommitted
// changes in the working tree.
func (w *Workspace) CreateBranch(name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
		Keep:   true,
	}); err != nil {
		return fmt.Errorf("checking out branch %s: %w", name, err)
	}
	return nil
}

// CommitAll stages every change, including deletions and untracked files,
// and commits it as the workspace identity.
func (w *Workspace) CommitAll(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", errors.New("commit message cannot be empty")
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("getting status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}

	email := w.identity.Email
	if !strings.Contains(email, "@") {
		email = fmt.Sprintf("%s@users.noreply.github.com", w.identity.Name)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  w.identity.Name,
			Email: email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}

	clog.FromContext(ctx).With("commit", hash.String()).Info("Committed changes")
	return hash.String(), nil
}

// Push sends a local branch to origin under the same name. It never forces,
// so an existing remote branch with different history is left untouched.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	log := clog.FromContext(ctx)

	auth, err := w.authForRemote()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	log.Infof("Pushing %s", refSpec)

	if err := w.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			log.Info("Branch already up to date")
			return nil
		}
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// DiffStat summarizes a commit's change against its first parent.
type DiffStat struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Lines is the total number of changed lines.
func (d *DiffStat) Lines() int { return d.Added + d.Removed }

// DiffStat computes the size of commit sha.
func (w *Workspace) DiffStat(ctx context.Context, sha string) (*DiffStat, error) {
	commit, err := w.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", sha, err)
	}

	if commit.NumParents() == 0 {
		stats, err := commit.StatsContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("computing stats for %s: %w", sha, err)
		}
		ds := &DiffStat{Files: len(stats)}
		for _, s := range stats {
			ds.Added += s.Addition
			ds.Removed += s.Deletion
		}
		return ds, nil
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("loading parent of %s: %w", sha, err)
	}
	patch, err := parent.PatchContext(ctx, commit)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", sha, err)
	}
	return ParseDiff(patch.String())
}

// ParseDiff counts files and added and removed lines in a unified diff.
func ParseDiff(unified string) (*DiffStat, error) {
	diff, err := diffparser.Parse(unified)
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}
	ds := &DiffStat{Files: len(diff.Files)}
	for _, f := range diff.Files {
		for _, h := range f.Hunks {
			for _, l := range h.WholeRange.Lines {
				switch l.Mode {
				case diffparser.ADDED:
					ds.Added++
				case diffparser.REMOVED:
					ds.Removed++
				}
			}
		}
	}
	return ds, nil
}
