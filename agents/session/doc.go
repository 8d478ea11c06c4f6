/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package session drives a bounded conversation between a Claude model and a
// tool dispatcher.
//
// Each iteration sends the full transcript to the model. When the response
// asks for tools, every requested tool runs in order and all of the results
// go back to the model in a single user turn. The session ends when:
//
//   - the model answers with text and no tool requests,
//   - cumulative input plus output tokens exceed the token budget,
//   - the iteration limit is reached, or
//   - the model call keeps failing after retries.
//
// Errors produced by individual tools never end a session. They are returned
// to the model as {"error": "..."} results so it can adapt.
//
// # Usage
//
//	s, err := session.New(&client.Messages, dispatcher, prompt,
//		session.WithModel("claude-sonnet-4-20250514"),
//		session.WithMaxIterations(10),
//		session.WithTokenBudget(200_000),
//		session.WithSystemInstructions(system),
//	)
//	if err != nil {
//		return err
//	}
//	report, err := s.Run(ctx, request)
package session
