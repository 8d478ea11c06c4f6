/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workspace manages the local checkout an agent edits.
//
// A Workspace is created by Clone (a throwaway copy in a temp directory) or
// Open (an existing checkout, used for local dry runs). It exposes the four
// capabilities the tools need: glob reads, policy-checked whole-file writes,
// project checks, and the git operations a publisher drives (branch, commit,
// push, diff).
//
// Paths are always repository-relative. Writes outside the root or into .git
// are refused regardless of policy.
package workspace
