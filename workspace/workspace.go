/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"chainguard.dev/safeops/policy"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const cloneDirPrefix = "safeops-clone-"

// State tracks what has happened to the working copy.
type State int

const (
	// Cloned is a fresh checkout with no agent edits.
	Cloned State = iota
	// Modified has at least one agent write.
	Modified
	// Checked has run the project checks since the last write.
	Checked
	// Published has committed and handed its changes to a publisher.
	Published
	// Abandoned has been closed without publishing.
	Abandoned
)

func (s State) String() string {
	switch s {
	case Cloned:
		return "cloned"
	case Modified:
		return "modified"
	case Checked:
		return "checked"
	case Published:
		return "published"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Identity is the author recorded on commits.
type Identity struct {
	Name  string
	Email string
}

// DefaultIdentity is used when no identity option is given.
var DefaultIdentity = Identity{Name: "claude-bot", Email: "bot@example"}

// Workspace is a local checkout of the target repository. Every write is
// checked against the policy it was created with.
type Workspace struct {
	root        string
	repo        *git.Repository
	policy      *policy.Policy
	runner      Runner
	checks      Checks
	identity    Identity
	tokenSource oauth2.TokenSource
	owned       bool
	state       State
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithRunner replaces the subprocess runner used by RunChecks.
func WithRunner(r Runner) Option {
	return func(w *Workspace) { w.runner = r }
}

// WithChecks replaces the project check commands.
func WithChecks(c Checks) Option {
	return func(w *Workspace) { w.checks = c }
}

// WithIdentity sets the commit author.
func WithIdentity(id Identity) Option {
	return func(w *Workspace) { w.identity = id }
}

// WithTokenSource authenticates clone and push. Without it remote
// operations are anonymous.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(w *Workspace) { w.tokenSource = ts }
}

func newWorkspace(pol *policy.Policy, opts []Option) *Workspace {
	w := &Workspace{
		policy:   pol,
		runner:   ExecRunner{},
		checks:   DefaultChecks,
		identity: DefaultIdentity,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Clone checks out branch of url into a new temporary directory. Close
// removes the directory.
func Clone(ctx context.Context, url, branch string, pol *policy.Policy, opts ...Option) (*Workspace, error) {
	w := newWorkspace(pol, opts)

	dir, err := os.MkdirTemp("", cloneDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	clog.FromContext(ctx).Infof("Cloning repository %s (%s) into %s", url, branch, dir)

	auth, err := w.authForRemote()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("getting token: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           url,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("cloning repository: %w", err)
	}

	w.root, w.repo, w.owned = dir, repo, true
	return w, nil
}

// Open uses an existing checkout in place. Close leaves it on disk.
func Open(path string, pol *policy.Policy, opts ...Option) (*Workspace, error) {
	w := newWorkspace(pol, opts)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	repo, err := git.PlainOpen(abs)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	w.root, w.repo = wt.Filesystem.Root(), repo
	return w, nil
}

// Root returns the absolute path of the checkout.
func (w *Workspace) Root() string { return w.root }

// State returns the current lifecycle state.
func (w *Workspace) State() State { return w.state }

// Policy returns the rule set writes are checked against.
func (w *Workspace) Policy() *policy.Policy { return w.policy }

// MarkPublished records that the current changes were handed off.
func (w *Workspace) MarkPublished() { w.state = Published }

// Close ends the workspace. A workspace created by Clone is deleted from disk.
func (w *Workspace) Close() error {
	if w.state != Published {
		w.state = Abandoned
	}
	if !w.owned {
		return nil
	}
	w.owned = false
	return os.RemoveAll(w.root)
}

func (w *Workspace) authForRemote() (transport.AuthMethod, error) {
	if w.tokenSource == nil {
		return nil, nil
	}
	token, err := w.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}
