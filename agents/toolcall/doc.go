/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package toolcall declares the four tools the model may invoke and routes
// its calls to the workspace and the publisher.
//
// Raw tool_use blocks are decoded into one of the typed calls (ReadRepo,
// WriteFile, RunChecks, OpenPR) before anything runs, so missing or
// mistyped arguments become error results instead of panics:
//
//	d := toolcall.NewDispatcher(ws, pub)
//	params.Tools = d.Definitions()
//	...
//	result := d.Dispatch(ctx, block.Name, block.Input)
//
// Every outcome, success or failure, is a map serialized back to the model
// as a tool result. Failures carry a single "error" key.
package toolcall
