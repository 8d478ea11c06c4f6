/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chainguard.dev/safeops/policy"
	"chainguard.dev/safeops/publish"
	"chainguard.dev/safeops/workspace"
	"cloud.google.com/go/compute/metadata"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"
)

// newClaudeClient uses the Anthropic API when a key is configured and Vertex
// AI otherwise. The session retries transient failures itself, so the SDK's
// own retries are disabled.
func newClaudeClient(ctx context.Context, cfg *config) (*anthropic.Client, error) {
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	if cfg.AnthropicAPIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.AnthropicAPIKey))
	} else {
		projectID := cfg.GCPProjectID
		if projectID == "" {
			if !metadata.OnGCE() {
				return nil, errors.New("ANTHROPIC_API_KEY or GCP_PROJECT_ID is required outside Google Cloud")
			}
			var err error
			if projectID, err = metadata.ProjectIDWithContext(ctx); err != nil {
				return nil, fmt.Errorf("detecting project ID: %w", err)
			}
		}
		clog.FromContext(ctx).With("project_id", projectID).
			With("region", cfg.GCPRegion).
			Info("Using Vertex AI")
		opts = append(opts, vertex.WithGoogleAuth(ctx, cfg.GCPRegion, projectID))
	}

	client := anthropic.NewClient(opts...)
	return &client, nil
}

// newGitHubTokenSource returns nil when no GitHub credential is configured.
func newGitHubTokenSource(ctx context.Context, cfg *config) (oauth2.TokenSource, error) {
	switch {
	case cfg.hasGitHubApp():
		itr, err := ghinstallation.New(http.DefaultTransport, cfg.GitHubAppID, cfg.GitHubInstallationID, []byte(cfg.GitHubAppPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("creating GitHub App transport: %w", err)
		}
		return oauth2.ReuseTokenSource(nil, &installationTokenSource{ctx: ctx, itr: itr}), nil
	case cfg.GitHubToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bareToken(cfg.GitHubToken)}), nil
	default:
		return nil, nil
	}
}

// bareToken strips a "user:" prefix from tokens written as basic-auth
// credentials.
func bareToken(token string) string {
	if i := strings.LastIndex(token, ":"); i >= 0 {
		return token[i+1:]
	}
	return token
}

// installationTokenSource adapts a GitHub App installation transport.
type installationTokenSource struct {
	ctx context.Context
	itr *ghinstallation.Transport
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.itr.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("getting installation token: %w", err)
	}
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if expiry, _, err := s.itr.Expiry(); err == nil {
		tok.Expiry = expiry
	}
	return tok, nil
}

func openWorkspace(ctx context.Context, cfg *config, opts ...workspace.Option) (*workspace.Workspace, error) {
	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	for _, pat := range pol.TopLevelOnly() {
		clog.FromContext(ctx).With("pattern", pat).
			Warnf("Forbidden pattern %q only matches at the repository root; use %q to match at any depth", pat, "**/"+pat)
	}
	opts = append(opts, workspace.WithIdentity(workspace.Identity{
		Name:  cfg.GitAuthorName,
		Email: cfg.GitAuthorEmail,
	}))
	if cfg.LocalRepoPath != "" {
		clog.FromContext(ctx).Infof("Using local checkout %s", cfg.LocalRepoPath)
		return workspace.Open(cfg.LocalRepoPath, pol, opts...)
	}
	return workspace.Clone(ctx, cfg.RepoURL, cfg.Base, pol, opts...)
}

func newPublisher(ctx context.Context, cfg *config, ws *workspace.Workspace, ts oauth2.TokenSource) (publish.Publisher, error) {
	if cfg.mode() == publish.ModeDryRun {
		return publish.NewDryRun(ws, cfg.Base, cfg.collision()), nil
	}
	if ts == nil {
		return nil, errors.New("remote publication requires a GitHub credential")
	}

	gh := github.NewClient(oauth2.NewClient(ctx, ts))
	var advisories []publish.Advisory
	if cfg.BotLabel != "" {
		advisories = append(advisories, publish.NewLabelAdvisory(gh, cfg.BotLabel))
	}
	advisories = append(advisories, publish.NewReviewerAdvisory(gh, cfg.reviewers()...))
	if url := cfg.webhookURL(); url != "" {
		advisories = append(advisories, publish.NewWebhookAdvisory(url))
	}

	return publish.NewRemote(ws, gh, cfg.OwnerRepo, cfg.Base,
		publish.WithCollisionPolicy(cfg.collision()),
		publish.WithAdvisories(advisories...),
	)
}
