/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package publish

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
)

// dryRunURL is the placeholder address given to locally committed changes.
const dryRunURL = "http://localhost/pr/%d"

// DryRun commits to a local branch and never contacts a remote. Each
// ChangeRequest gets a synthetic number, counting up from 1, and a localhost
// URL that points nowhere.
type DryRun struct {
	repo      Repository
	base      string
	collision CollisionPolicy
	count     int
}

// NewDryRun creates a local-only publisher.
func NewDryRun(repo Repository, base string, collision CollisionPolicy) *DryRun {
	if collision == "" {
		collision = CollisionFail
	}
	return &DryRun{repo: repo, base: base, collision: collision}
}

// Publish implements Publisher.
func (d *DryRun) Publish(ctx context.Context, req Request) (*ChangeRequest, error) {
	branch, sha, err := commitBranch(ctx, d.repo, req, func(_ context.Context, name string) (bool, error) {
		return d.repo.BranchExists(name)
	}, d.collision)
	if err != nil {
		return nil, err
	}
	d.repo.MarkPublished()
	d.count++

	cr := &ChangeRequest{
		Title:  req.Title,
		Body:   req.Body,
		Branch: branch,
		Base:   d.base,
		Commit: sha,
		Number: d.count,
		URL:    fmt.Sprintf(dryRunURL, d.count),
		Draft:  true,
		DryRun: true,
	}
	diffStat(ctx, d.repo, cr)
	clog.FromContext(ctx).With("branch", branch).With("commit", sha).
		Info("Dry run: committed locally, not pushing")
	return cr, nil
}
