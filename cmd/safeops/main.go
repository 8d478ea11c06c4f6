/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs one bounded safeops session: it clones the target
// repository, lets Claude pick a small task from the backlog, and publishes
// the result as a draft pull request.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"chainguard.dev/safeops/agents/metrics"
	"chainguard.dev/safeops/agents/session"
	"chainguard.dev/safeops/agents/toolcall"
	"chainguard.dev/safeops/workspace"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Exit codes used when STRICT_EXIT is set. Without it every finished session
// exits zero.
const (
	exitOK        = 0
	exitError     = 1
	exitNoChange  = 3
	exitBudget    = 4
	exitIteration = 5
	exitTransport = 6
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		clog.FatalContextf(ctx, "invalid config: %v", err)
	}

	client, err := newClaudeClient(ctx, &cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating Claude client: %v", err)
	}

	code := run(ctx, &cfg, &client.Messages, os.Stdout)
	cancel()
	os.Exit(code)
}

// run executes one session and returns the process exit code.
func run(ctx context.Context, cfg *config, client session.MessageClient, out io.Writer) int {
	log := clog.FromContext(ctx).With("repository", cfg.OwnerRepo).With("mode", cfg.PublicationMode)
	ctx = clog.WithLogger(ctx, log)

	backlog, err := loadBacklog(cfg.TaskFile)
	if err != nil {
		log.Errorf("Loading backlog: %v", err)
		return exitError
	}

	ts, err := newGitHubTokenSource(ctx, cfg)
	if err != nil {
		log.Errorf("Creating GitHub credentials: %v", err)
		return exitError
	}
	var wsOpts []workspace.Option
	if ts != nil {
		wsOpts = append(wsOpts, workspace.WithTokenSource(ts))
	}
	ws, err := openWorkspace(ctx, cfg, wsOpts...)
	if err != nil {
		log.Errorf("Preparing workspace: %v", err)
		return exitError
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warnf("Cleaning up workspace: %v", err)
		}
	}()

	pub, err := newPublisher(ctx, cfg, ws, ts)
	if err != nil {
		log.Errorf("Creating publisher: %v", err)
		return exitError
	}
	dispatcher := toolcall.NewDispatcher(ws, pub, toolcall.WithMaxLOC(ws.Policy().MaxLOC()))

	system, err := systemPrompt(ws.Policy(), cfg.mode())
	if err != nil {
		log.Errorf("Building system prompt: %v", err)
		return exitError
	}
	s, err := session.New(client, dispatcher, userPrompt,
		session.WithModel(cfg.ClaudeModel),
		session.WithMaxIterations(cfg.MaxLoops),
		session.WithTokenBudget(cfg.BudgetTokens),
		session.WithMaxTokens(cfg.MaxTokens),
		session.WithSystemInstructions(system),
		session.WithAttributeEnricher(metrics.StaticAttributes(
			attribute.String("repository", cfg.OwnerRepo),
			attribute.String("mode", cfg.PublicationMode),
		)),
	)
	if err != nil {
		log.Errorf("Creating session: %v", err)
		return exitError
	}

	report, err := s.Run(ctx, &taskRequest{Repository: cfg.OwnerRepo, Backlog: backlog})
	if err != nil {
		var te *session.TransportError
		if !errors.As(err, &te) {
			log.Errorf("Running session: %v", err)
			return exitError
		}
		log.Errorf("Session ended early: %v", err)
	}

	published := dispatcher.ChangeRequests()
	if err := writeSummary(out, report, published); err != nil {
		log.Warnf("Writing summary: %v", err)
	}
	return exitCode(cfg.StrictExit, report.Outcome, len(published))
}

// exitCode maps a session's result to a process status. A published change
// request wins over however the session ended afterwards.
func exitCode(strict bool, outcome session.Outcome, published int) int {
	if !strict || published > 0 {
		return exitOK
	}
	switch outcome {
	case session.BudgetExceeded:
		return exitBudget
	case session.IterationLimit:
		return exitIteration
	case session.TransportFailure:
		return exitTransport
	default:
		return exitNoChange
	}
}
