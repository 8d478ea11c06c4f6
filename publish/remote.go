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

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
)

// Remote pushes branches to origin and opens draft pull requests.
type Remote struct {
	repo       Repository
	client     *github.Client
	gql        *githubv4.Client
	owner      string
	name       string
	base       string
	collision  CollisionPolicy
	advisories []Advisory
	// stranded is the last commit that failed to reach the remote.
	stranded *UnpublishedError
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithCollisionPolicy sets how taken branch names are handled.
func WithCollisionPolicy(c CollisionPolicy) RemoteOption {
	return func(r *Remote) { r.collision = c }
}

// WithAdvisories adds post-publish steps.
func WithAdvisories(a ...Advisory) RemoteOption {
	return func(r *Remote) { r.advisories = append(r.advisories, a...) }
}

// WithGraphQLClient overrides the client used to look up open pull requests.
func WithGraphQLClient(c *githubv4.Client) RemoteOption {
	return func(r *Remote) { r.gql = c }
}

// NewRemote creates a publisher for ownerRepo ("owner/name") that targets base.
func NewRemote(repo Repository, client *github.Client, ownerRepo, base string, opts ...RemoteOption) (*Remote, error) {
	owner, name, err := SplitOwnerRepo(ownerRepo)
	if err != nil {
		return nil, err
	}
	if base == "" {
		return nil, errors.New("base branch cannot be empty")
	}
	r := &Remote{
		repo:      repo,
		client:    client,
		owner:     owner,
		name:      name,
		base:      base,
		collision: CollisionFail,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gql == nil {
		r.gql = githubv4.NewClient(client.Client())
	}
	return r, nil
}

// SplitOwnerRepo parses "owner/name".
func SplitOwnerRepo(ownerRepo string) (string, string, error) {
	owner, name, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository must be owner/name, got %q", ownerRepo)
	}
	return owner, name, nil
}

// Publish implements Publisher.
func (r *Remote) Publish(ctx context.Context, req Request) (*ChangeRequest, error) {
	log := clog.FromContext(ctx).With("repository", r.owner+"/"+r.name)

	branch, sha, err := commitBranch(ctx, r.repo, req, r.branchTaken, r.collision)
	if errors.Is(err, ErrNothingToCommit) && r.stranded != nil {
		return nil, &UnpublishedError{Branch: r.stranded.Branch, Commit: r.stranded.Commit, Err: err}
	}
	if err != nil {
		return nil, err
	}
	if err := r.repo.Push(ctx, branch); err != nil {
		return nil, r.strand(ctx, branch, sha, err)
	}

	pr, _, err := r.client.PullRequests.Create(ctx, r.owner, r.name, &github.NewPullRequest{
		Title: github.Ptr(req.Title),
		Body:  github.Ptr(req.Body),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(r.base),
		Draft: github.Ptr(true),
	})
	if err != nil {
		return nil, r.strand(ctx, branch, sha, fmt.Errorf("creating pull request: %w", err))
	}
	r.stranded = nil
	r.repo.MarkPublished()

	cr := &ChangeRequest{
		Repository: r.owner + "/" + r.name,
		Title:      req.Title,
		Body:       req.Body,
		Branch:     branch,
		Base:       r.base,
		Commit:     sha,
		Number:     pr.GetNumber(),
		URL:        pr.GetHTMLURL(),
		Draft:      true,
	}
	log.With("number", cr.Number).With("url", cr.URL).Info("Opened draft pull request")

	diffStat(ctx, r.repo, cr)
	RunAdvisories(ctx, r.advisories, cr)
	return cr, nil
}

func (r *Remote) strand(ctx context.Context, branch, sha string, err error) error {
	r.stranded = &UnpublishedError{Branch: branch, Commit: sha, Err: err}
	clog.FromContext(ctx).With("branch", branch).With("commit", sha).
		Errorf("Commit left unpublished: %v", err)
	return r.stranded
}

// branchTaken treats a name as taken if a local branch exists or an open
// pull request already uses it as its head.
func (r *Remote) branchTaken(ctx context.Context, name string) (bool, error) {
	local, err := r.repo.BranchExists(name)
	if err != nil || local {
		return local, err
	}
	number, err := r.openPullRequest(ctx, name)
	if err != nil {
		return false, err
	}
	return number != 0, nil
}

func (r *Remote) openPullRequest(ctx context.Context, branch string) (int, error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes []struct {
					Number int
					Url    string
				}
			} `graphql:"pullRequests(headRefName: $headRef, states: [OPEN], first: 1)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := map[string]any{
		"owner":   githubv4.String(r.owner),
		"repo":    githubv4.String(r.name),
		"headRef": githubv4.String(branch),
	}
	if err := r.gql.Query(ctx, &query, variables); err != nil {
		return 0, fmt.Errorf("querying pull requests: %w", err)
	}
	if len(query.Repository.PullRequests.Nodes) == 0 {
		return 0, nil
	}
	pr := query.Repository.PullRequests.Nodes[0]
	clog.FromContext(ctx).Infof("Branch %s already has open pull request %s", branch, pr.Url)
	return pr.Number, nil
}
