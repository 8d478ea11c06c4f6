/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package publish turns the agent's edits into a reviewable change request.
//
// A Publisher first confirms that the working tree differs from the last
// commit, then creates the named branch, commits everything and hands it
// off. Remote pushes the branch and opens a draft pull request on GitHub.
// DryRun stops after the local commit.
//
// Once the change request exists, Remote runs its advisories (a marker label,
// a review request, an optional chat notification). Each advisory runs on
// its own and a failure is only logged; it never undoes the publish.
package publish
