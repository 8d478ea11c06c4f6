/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"chainguard.dev/safeops/agents/promptbuilder"
	"chainguard.dev/safeops/policy"
	"chainguard.dev/safeops/publish"
)

// systemTemplate is advisory. The workspace enforces the policy regardless of
// what the model does with it.
var systemTemplate = promptbuilder.MustNewPrompt(`You are a cautious coding agent for web frontends (Next.js/React/TS) and Node services.
Respect these guardrails:
{{safeops}}

Rules:
- Make only tiny, reversible improvements (tests, docs, a11y, SEO, refactors).
- Keep diffs under {{max_loc}} LOC.
- Never touch forbidden globs. If a task requires it, explain and stop.
- Globs match from the repository root: * stays within one directory, **/ matches at any depth.
- Always run checks before opening PRs; leave draft PR with risk notes and change summary.
{{mode_note}}`)

const (
	remoteNote = ""
	dryRunNote = `- This is a dry run. open_pr commits to a local branch only; nothing is pushed and no pull request is created.`
)

// userPrompt is the first user turn of every session.
var userPrompt = promptbuilder.MustNewPrompt(`Target repo: {{repository}}
Backlog (choose one tiny task):

{{backlog}}`)

// systemPrompt binds the policy document and publication mode.
func systemPrompt(pol *policy.Policy, mode publish.Mode) (*promptbuilder.Prompt, error) {
	p, err := systemTemplate.BindJSON("safeops", pol.Document())
	if err != nil {
		return nil, err
	}
	if p, err = p.BindJSON("max_loc", pol.MaxLOC()); err != nil {
		return nil, err
	}
	if mode == publish.ModeDryRun {
		return p.BindStringLiteral("mode_note", dryRunNote)
	}
	return p.BindStringLiteral("mode_note", remoteNote)
}

// taskRequest fills userPrompt.
type taskRequest struct {
	Repository string
	Backlog    *backlog
}

// Bind implements promptbuilder.Bindable.
func (r *taskRequest) Bind(p *promptbuilder.Prompt) (*promptbuilder.Prompt, error) {
	p, err := p.BindJSON("repository", r.Repository)
	if err != nil {
		return nil, err
	}
	return p.BindYAML("backlog", r.Backlog.value())
}
