/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/safeops/workspace"
	"github.com/chainguard-dev/clog"
)

// ErrBranchExists is returned when the requested branch is already taken and
// the collision policy does not allow picking another name.
var ErrBranchExists = errors.New("branch already exists")

// ErrNothingToCommit is returned when no file changed since the last commit.
var ErrNothingToCommit = workspace.ErrNothingToCommit

// UnpublishedError reports a commit that landed on a local branch but never
// reached the remote. Nothing is rolled back: the branch keeps the commit and
// the working tree is clean, so a later publish has nothing new to commit.
type UnpublishedError struct {
	Branch string
	Commit string
	Err    error
}

func (e *UnpublishedError) Error() string {
	return fmt.Sprintf("branch %s already holds unpublished commit %s: %v", e.Branch, shortSHA(e.Commit), e.Err)
}

func (e *UnpublishedError) Unwrap() error { return e.Err }

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// maxSuffix bounds the names tried under CollisionSuffix.
const maxSuffix = 10

// Mode selects how change requests are published.
type Mode string

const (
	// ModeRemote pushes and opens a pull request.
	ModeRemote Mode = "remote"
	// ModeDryRun commits locally and stops.
	ModeDryRun Mode = "dry-run"
)

// CollisionPolicy decides what happens when a branch name is taken.
type CollisionPolicy string

const (
	// CollisionFail refuses to publish.
	CollisionFail CollisionPolicy = "fail"
	// CollisionSuffix appends -2, -3, ... until a free name is found.
	CollisionSuffix CollisionPolicy = "suffix"
)

// Request is what the model asks for.
type Request struct {
	Title  string
	Body   string
	Branch string
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return errors.New("title parameter is required")
	case strings.TrimSpace(r.Branch) == "":
		return errors.New("branch parameter is required")
	}
	return nil
}

// ChangeRequest describes a published (or locally committed) change.
type ChangeRequest struct {
	Repository string
	Title      string
	Body       string
	Branch     string
	Base       string
	Commit     string
	Number     int
	URL        string
	Draft      bool
	DryRun     bool
	Diff       *workspace.DiffStat
}

// Publisher hands committed work to reviewers.
type Publisher interface {
	Publish(ctx context.Context, req Request) (*ChangeRequest, error)
}

// Repository is the part of a workspace a publisher drives.
type Repository interface {
	HasChanges() (bool, error)
	BranchExists(name string) (bool, error)
	CreateBranch(name string) error
	CommitAll(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, branch string) error
	DiffStat(ctx context.Context, sha string) (*workspace.DiffStat, error)
	MarkPublished()
}

var _ Repository = (*workspace.Workspace)(nil)

// branchTaken reports whether a candidate branch name is in use.
type branchTaken func(ctx context.Context, name string) (bool, error)

// commitBranch creates the branch for req and commits the working tree to it.
// It checks for changes before touching any refs, so a request with nothing
// to commit leaves no branch behind.
func commitBranch(ctx context.Context, repo Repository, req Request, taken branchTaken, collision CollisionPolicy) (string, string, error) {
	if err := req.validate(); err != nil {
		return "", "", err
	}

	changed, err := repo.HasChanges()
	if err != nil {
		return "", "", err
	}
	if !changed {
		return "", "", ErrNothingToCommit
	}

	branch, err := resolveBranch(ctx, req.Branch, taken, collision)
	if err != nil {
		return "", "", err
	}
	if err := repo.CreateBranch(branch); err != nil {
		return "", "", err
	}
	sha, err := repo.CommitAll(ctx, req.Title)
	if err != nil {
		return "", "", err
	}
	return branch, sha, nil
}

func resolveBranch(ctx context.Context, base string, taken branchTaken, collision CollisionPolicy) (string, error) {
	for i := 1; i <= maxSuffix; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		inUse, err := taken(ctx, name)
		if err != nil {
			return "", fmt.Errorf("checking branch %s: %w", name, err)
		}
		if !inUse {
			if name != base {
				clog.FromContext(ctx).Infof("Branch %s is taken, using %s", base, name)
			}
			return name, nil
		}
		if collision != CollisionSuffix {
			return "", fmt.Errorf("%w: %s", ErrBranchExists, name)
		}
	}
	return "", fmt.Errorf("%w: %s and %d suffixed variants", ErrBranchExists, base, maxSuffix-1)
}

// diffStat attaches the commit's size when it can be computed.
func diffStat(ctx context.Context, repo Repository, cr *ChangeRequest) {
	ds, err := repo.DiffStat(ctx, cr.Commit)
	if err != nil {
		clog.FromContext(ctx).Warnf("Computing diff stat for %s: %v", cr.Commit, err)
		return
	}
	cr.Diff = ds
}
