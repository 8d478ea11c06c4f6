/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package policy decides which repository paths an agent may write.
//
// A Policy holds two ordered pattern sets. The forbidden set is checked first
// and always wins; the allowed set is consulted only when it is non-empty,
// otherwise every non-forbidden path is allowed:
//
//	pol, err := policy.Load("configs/safeops.json")
//	if err != nil {
//		return err
//	}
//	if !pol.IsAllowed("src/app.ts") {
//		return &policy.Error{Path: "src/app.ts"}
//	}
//
// Patterns use doublestar glob syntax ("*", "**", "{a,b}"). A pattern that
// matches a directory also covers everything beneath it, so "secrets/*"
// forbids "secrets/nested/key.txt" as well as "secrets/key.txt".
//
// The document also carries max_loc, a diff-size hint surfaced to the model.
// It is advisory and never enforced here.
package policy
