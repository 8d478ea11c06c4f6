/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/safeops/publish"
)

type config struct {
	// Model provider
	ClaudeModel     string `env:"CLAUDE_MODEL,default=claude-sonnet-4-20250514"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	GCPProjectID    string `env:"GCP_PROJECT_ID"`
	GCPRegion       string `env:"GCP_REGION,default=us-east5"`

	// Target repository
	RepoURL       string `env:"TARGET_REPO_URL"`
	OwnerRepo     string `env:"TARGET_OWNER_REPO,required"`
	Base          string `env:"PR_BASE,default=main"`
	LocalRepoPath string `env:"LOCAL_REPO_PATH"`

	// Session inputs and limits
	TaskFile     string `env:"TASK_FILE,default=tasks/backlog.yaml"`
	PolicyFile   string `env:"SAFEOPS,default=configs/safeops.json"`
	MaxLoops     int    `env:"MAX_LOOPS,default=10"`
	BudgetTokens int64  `env:"ANTHROPIC_BUDGET_TOKENS,default=0"`
	MaxTokens    int64  `env:"MAX_TOKENS,default=1800"`

	// GitHub credentials: a token, or a GitHub App installation
	GitHubToken          string `env:"GH_TOKEN"`
	GitHubAppID          int64  `env:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `env:"GITHUB_INSTALLATION_ID"`
	GitHubAppPrivateKey  string `env:"GITHUB_APP_PRIVATE_KEY"`

	// Publication
	PublicationMode string   `env:"PUBLICATION_MODE,default=remote"`
	BranchCollision string   `env:"BRANCH_COLLISION,default=fail"`
	BotLabel        string   `env:"BOT_LABEL,default=bot"`
	Reviewers       []string `env:"REVIEWERS"`
	SlackWebhookURL string   `env:"SLACK_WEBHOOK_URL"`
	TeamsWebhookURL string   `env:"TEAMS_WEBHOOK_URL"`
	GitAuthorName   string   `env:"GIT_AUTHOR_NAME,default=claude-bot"`
	GitAuthorEmail  string   `env:"GIT_AUTHOR_EMAIL,default=bot@example"`

	StrictExit bool `env:"STRICT_EXIT,default=false"`
}

func (c *config) mode() publish.Mode {
	return publish.Mode(c.PublicationMode)
}

func (c *config) collision() publish.CollisionPolicy {
	return publish.CollisionPolicy(c.BranchCollision)
}

// webhookURL returns the chat endpoint to notify, Slack first.
func (c *config) webhookURL() string {
	if c.SlackWebhookURL != "" {
		return c.SlackWebhookURL
	}
	return c.TeamsWebhookURL
}

func (c *config) hasGitHubApp() bool {
	return c.GitHubAppID != 0 || c.GitHubInstallationID != 0 || c.GitHubAppPrivateKey != ""
}

// reviewers defaults to the repository owner.
func (c *config) reviewers() []string {
	if len(c.Reviewers) > 0 {
		return c.Reviewers
	}
	owner, _, _ := strings.Cut(c.OwnerRepo, "/")
	return []string{owner}
}

func (c *config) validate() error {
	var errs []error
	if !strings.HasPrefix(c.ClaudeModel, "claude-") {
		errs = append(errs, fmt.Errorf("CLAUDE_MODEL %q must start with claude-", c.ClaudeModel))
	}
	if _, _, err := publish.SplitOwnerRepo(c.OwnerRepo); err != nil {
		errs = append(errs, fmt.Errorf("TARGET_OWNER_REPO: %w", err))
	}
	if c.Base == "" {
		errs = append(errs, errors.New("PR_BASE cannot be empty"))
	}
	if c.MaxLoops <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LOOPS must be positive, got %d", c.MaxLoops))
	}
	if c.BudgetTokens < 0 {
		errs = append(errs, fmt.Errorf("ANTHROPIC_BUDGET_TOKENS cannot be negative, got %d", c.BudgetTokens))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("MAX_TOKENS must be positive, got %d", c.MaxTokens))
	}

	switch c.collision() {
	case publish.CollisionFail, publish.CollisionSuffix:
	default:
		errs = append(errs, fmt.Errorf("BRANCH_COLLISION must be %q or %q, got %q",
			publish.CollisionFail, publish.CollisionSuffix, c.BranchCollision))
	}

	if c.hasGitHubApp() && (c.GitHubAppID == 0 || c.GitHubInstallationID == 0 || c.GitHubAppPrivateKey == "") {
		errs = append(errs, errors.New("GITHUB_APP_ID, GITHUB_INSTALLATION_ID and GITHUB_APP_PRIVATE_KEY must be set together"))
	}

	switch c.mode() {
	case publish.ModeRemote:
		if c.RepoURL == "" {
			errs = append(errs, errors.New("TARGET_REPO_URL is required in remote mode"))
		}
		if c.LocalRepoPath != "" {
			errs = append(errs, errors.New("LOCAL_REPO_PATH is only supported in dry-run mode"))
		}
		if c.GitHubToken == "" && !c.hasGitHubApp() {
			errs = append(errs, errors.New("GH_TOKEN or a GitHub App credential is required in remote mode"))
		}
	case publish.ModeDryRun:
		if c.RepoURL == "" && c.LocalRepoPath == "" {
			errs = append(errs, errors.New("TARGET_REPO_URL or LOCAL_REPO_PATH is required in dry-run mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("PUBLICATION_MODE must be %q or %q, got %q",
			publish.ModeRemote, publish.ModeDryRun, c.PublicationMode))
	}

	return errors.Join(errs...)
}
