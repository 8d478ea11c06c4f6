/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"chainguard.dev/safeops/agents/promptbuilder"
	"chainguard.dev/safeops/agents/retry"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeClient replays canned responses and records each request.
type fakeClient struct {
	mu        sync.Mutex
	responses []*anthropic.Message
	err       error
	// failures are returned, in order, before any response.
	failures []error
	requests []anthropic.MessageNewParams
}

func (f *fakeClient) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := body
	snapshot.Messages = append([]anthropic.MessageParam(nil), body.Messages...)
	f.requests = append(f.requests, snapshot)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("no more canned responses")
	}
	msg := f.responses[0]
	f.responses = f.responses[1:]
	return msg, nil
}

type block map[string]any

func toolUse(id, name string, input map[string]any) block {
	return block{"type": "tool_use", "id": id, "name": name, "input": input}
}

func text(s string) block {
	return block{"type": "text", "text": s}
}

func message(t *testing.T, in, out int64, content ...block) *anthropic.Message {
	t.Helper()
	stop := "end_turn"
	for _, b := range content {
		if b["type"] == "tool_use" {
			stop = "tool_use"
		}
	}
	raw, err := json.Marshal(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       DefaultModel,
		"content":     content,
		"stop_reason": stop,
		"usage":       map[string]any{"input_tokens": in, "output_tokens": out},
	})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	var msg anthropic.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return &msg
}

// fakeDispatcher echoes calls and fails for tools named "broken".
type fakeDispatcher struct {
	calls []string
}

func (*fakeDispatcher) Definitions() []anthropic.ToolUnionParam { return nil }

func (f *fakeDispatcher) Dispatch(_ context.Context, name string, input json.RawMessage) map[string]any {
	f.calls = append(f.calls, name)
	if name == "broken" {
		return map[string]any{"error": "broken tool"}
	}
	return map[string]any{"tool": name, "input": string(input)}
}

type repoRequest struct {
	Repo string
}

func (r repoRequest) Bind(p *promptbuilder.Prompt) (*promptbuilder.Prompt, error) {
	return p.BindJSON("repo", r.Repo)
}

func newTestSession(t *testing.T, client MessageClient, d Dispatcher, opts ...Option) *Session {
	t.Helper()
	prompt := promptbuilder.MustNewPrompt("Target repo: {{repo}}")
	opts = append([]Option{WithRetryConfig(retry.Config{})}, opts...)
	s, err := New(client, d, prompt, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return s
}

func TestRunCompletesOnText(t *testing.T) {
	client := &fakeClient{responses: []*anthropic.Message{
		message(t, 100, 20, text("looking"), toolUse("t1", "read_repo", map[string]any{"glob": "**/*.md"})),
		message(t, 150, 30, text("All done.")),
	}}
	d := &fakeDispatcher{}
	s := newTestSession(t, client, d, WithSystemInstructions(promptbuilder.MustNewPrompt("Be careful.")))

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if report.Outcome != Completed {
		t.Errorf("Outcome = %s, wanted %s", report.Outcome, Completed)
	}
	if report.FinalText != "All done." {
		t.Errorf("FinalText = %q", report.FinalText)
	}
	if report.Iterations != 2 {
		t.Errorf("Iterations = %d, wanted 2", report.Iterations)
	}
	if diff := cmp.Diff([]string{"read_repo"}, d.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}

	first := client.requests[0]
	if got := first.System[0].Text; got != "Be careful." {
		t.Errorf("system = %q", got)
	}
	if got := first.Messages[0].Content[0].OfText.Text; got != `Target repo: "acme/web"` {
		t.Errorf("first user turn = %q", got)
	}
	if first.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, wanted %d", first.MaxTokens, DefaultMaxTokens)
	}
	// request, assistant tool turn, tool results, closing assistant turn
	if len(report.Transcript) != 4 {
		t.Errorf("len(Transcript) = %d, wanted 4", len(report.Transcript))
	}
}

func TestRunReturnsAllToolResultsInOneTurn(t *testing.T) {
	client := &fakeClient{responses: []*anthropic.Message{
		message(t, 10, 10,
			toolUse("t1", "write_file", map[string]any{"path": "a.md", "content": "a"}),
			toolUse("t2", "broken", nil),
			toolUse("t3", "run_checks", map[string]any{})),
		message(t, 10, 10, text("ok")),
	}}
	d := &fakeDispatcher{}
	s := newTestSession(t, client, d)

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if diff := cmp.Diff([]string{"write_file", "broken", "run_checks"}, d.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}

	second := client.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, wanted 3", len(second.Messages))
	}
	results := second.Messages[2]
	if results.Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %s, wanted user", results.Role)
	}
	var ids []string
	var failed []bool
	for _, c := range results.Content {
		if c.OfToolResult == nil {
			t.Fatalf("content block is not a tool result: %+v", c)
		}
		ids = append(ids, c.OfToolResult.ToolUseID)
		failed = append(failed, c.OfToolResult.IsError.Value)
	}
	if diff := cmp.Diff([]string{"t1", "t2", "t3"}, ids); diff != "" {
		t.Errorf("tool_use ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, true, false}, failed); diff != "" {
		t.Errorf("is_error (-want +got):\n%s", diff)
	}
	if got := results.Content[1].OfToolResult.Content[0].OfText.Text; !strings.Contains(got, "broken tool") {
		t.Errorf("error result = %q", got)
	}

	want := []ToolCall{
		{Iteration: 1, ID: "t1", Name: "write_file"},
		{Iteration: 1, ID: "t2", Name: "broken", Failed: true},
		{Iteration: 1, ID: "t3", Name: "run_checks"},
	}
	if diff := cmp.Diff(want, report.ToolCalls); diff != "" {
		t.Errorf("ToolCalls (-want +got):\n%s", diff)
	}
}

func TestRunIterationLimit(t *testing.T) {
	const limit = 3
	var responses []*anthropic.Message
	for i := range limit + 2 {
		responses = append(responses, message(t, 5, 5, toolUse(fmt.Sprintf("t%d", i), "read_repo", nil)))
	}
	client := &fakeClient{responses: responses}
	d := &fakeDispatcher{}
	s := newTestSession(t, client, d, WithMaxIterations(limit))

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Outcome != IterationLimit {
		t.Errorf("Outcome = %s, wanted %s", report.Outcome, IterationLimit)
	}
	if len(client.requests) != limit {
		t.Errorf("model calls = %d, wanted %d", len(client.requests), limit)
	}
	if report.Iterations != limit {
		t.Errorf("Iterations = %d, wanted %d", report.Iterations, limit)
	}
	if len(d.calls) != limit {
		t.Errorf("tool calls = %d, wanted %d", len(d.calls), limit)
	}
}

func TestRunTokenAccountingIsAdditive(t *testing.T) {
	client := &fakeClient{responses: []*anthropic.Message{
		message(t, 100, 10, toolUse("t1", "read_repo", nil)),
		message(t, 200, 20, toolUse("t2", "read_repo", nil)),
		message(t, 300, 30, text("done")),
	}}
	s := newTestSession(t, client, &fakeDispatcher{}, WithTokenBudget(10_000))

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	want := []Usage{
		{Iteration: 1, InputTokens: 100, OutputTokens: 10},
		{Iteration: 2, InputTokens: 200, OutputTokens: 20},
		{Iteration: 3, InputTokens: 300, OutputTokens: 30},
	}
	if diff := cmp.Diff(want, report.Usage); diff != "" {
		t.Errorf("Usage (-want +got):\n%s", diff)
	}
	var sum int64
	for _, u := range report.Usage {
		sum += u.Total()
	}
	if report.TotalTokens != sum || sum != 660 {
		t.Errorf("TotalTokens = %d, sum = %d, wanted 660", report.TotalTokens, sum)
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	client := &fakeClient{responses: []*anthropic.Message{
		message(t, 500, 100, toolUse("t1", "write_file", map[string]any{"path": "a", "content": "b"})),
		message(t, 500, 100, text("never reached")),
	}}
	d := &fakeDispatcher{}
	s := newTestSession(t, client, d, WithTokenBudget(500))

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Outcome != BudgetExceeded {
		t.Errorf("Outcome = %s, wanted %s", report.Outcome, BudgetExceeded)
	}
	if len(client.requests) != 1 {
		t.Errorf("model calls = %d, wanted 1", len(client.requests))
	}
	if len(d.calls) != 0 {
		t.Errorf("tools ran after the budget was exceeded: %v", d.calls)
	}
	if report.TotalTokens != 600 {
		t.Errorf("TotalTokens = %d, wanted 600", report.TotalTokens)
	}
}

func TestRunUnlimitedBudget(t *testing.T) {
	client := &fakeClient{responses: []*anthropic.Message{
		message(t, 1_000_000, 1_000_000, toolUse("t1", "read_repo", nil)),
		message(t, 1, 1, text("done")),
	}}
	s := newTestSession(t, client, &fakeDispatcher{})

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Outcome != Completed {
		t.Errorf("Outcome = %s, wanted %s", report.Outcome, Completed)
	}
}

func TestRunTransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	client := &fakeClient{err: boom}
	d := &fakeDispatcher{}
	s := newTestSession(t, client, d)

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Run() = %v, wanted *TransportError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Run() = %v, wanted it to wrap %v", err, boom)
	}
	if te.Iteration != 1 {
		t.Errorf("Iteration = %d, wanted 1", te.Iteration)
	}
	if report == nil || report.Outcome != TransportFailure {
		t.Fatalf("report = %+v, wanted outcome %s", report, TransportFailure)
	}
	if len(d.calls) != 0 {
		t.Errorf("tools ran: %v", d.calls)
	}
}

func TestRunBindFailure(t *testing.T) {
	s := newTestSession(t, &fakeClient{}, &fakeDispatcher{})
	// Noop leaves {{repo}} unbound.
	if _, err := s.Run(context.Background(), promptbuilder.Noop{}); err == nil {
		t.Error("Run() = nil, wanted an unbound placeholder error")
	}
}

func TestNewValidates(t *testing.T) {
	prompt := promptbuilder.MustNewPrompt("hi")
	client := &fakeClient{}
	d := &fakeDispatcher{}

	tests := []struct {
		name string
		opts []Option
	}{
		{"non-claude model", []Option{WithModel("gpt-4")}},
		{"zero iterations", []Option{WithMaxIterations(0)}},
		{"negative budget", []Option{WithTokenBudget(-1)}},
		{"zero max tokens", []Option{WithMaxTokens(0)}},
		{"huge max tokens", []Option{WithMaxTokens(64000)}},
		{"nil system", []Option{WithSystemInstructions(nil)}},
		{"negative retries", []Option{WithRetryConfig(retry.Config{MaxRetries: -1})}},
		{"nil metrics", []Option{WithMetrics(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(client, d, prompt, tt.opts...); err == nil {
				t.Error("New() = nil, wanted error")
			}
		})
	}

	if _, err := New(nil, d, prompt); err == nil {
		t.Error("New(nil client) = nil, wanted error")
	}
	if _, err := New(client, nil, prompt); err == nil {
		t.Error("New(nil dispatcher) = nil, wanted error")
	}
	if _, err := New(client, d, nil); err == nil {
		t.Error("New(nil prompt) = nil, wanted error")
	}
}

func apiError(status int) error {
	return &anthropic.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: status, Header: http.Header{}},
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	client := &fakeClient{
		failures:  []error{apiError(529), apiError(http.StatusTooManyRequests)},
		responses: []*anthropic.Message{message(t, 10, 5, text("done"))},
	}
	s := newTestSession(t, client, &fakeDispatcher{}, WithRetryConfig(retry.Config{MaxRetries: 2}))

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if report.Outcome != Completed || report.Iterations != 1 {
		t.Errorf("report = %+v, wanted completed after 1 iteration", report)
	}
	if len(client.requests) != 3 {
		t.Errorf("requests = %d, wanted 3", len(client.requests))
	}
}

func TestRunPermanentAPIFailure(t *testing.T) {
	client := &fakeClient{failures: []error{apiError(http.StatusUnauthorized)}}
	s := newTestSession(t, client, &fakeDispatcher{}, WithRetryConfig(retry.Config{MaxRetries: 5}))

	report, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"})
	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("Run() = %v, wanted *retry.Error", err)
	}
	if rerr.Attempts != 1 || rerr.Reason != retry.Permanent {
		t.Errorf("retry.Error = {Attempts: %d, Reason: %s}, wanted {1, permanent}", rerr.Attempts, rerr.Reason)
	}
	if report.Outcome != TransportFailure {
		t.Errorf("Outcome = %s, wanted %s", report.Outcome, TransportFailure)
	}
	if len(client.requests) != 1 {
		t.Errorf("requests = %d, wanted 1", len(client.requests))
	}
}

func TestRunRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	client := &fakeClient{responses: []*anthropic.Message{
		message(t, 10, 10, toolUse("t1", "read_repo", nil), toolUse("t2", "broken", nil)),
		message(t, 10, 10, text("done")),
	}}
	s := newTestSession(t, client, &fakeDispatcher{})
	s.tracer = tp.Tracer("test")

	if _, err := s.Run(context.Background(), repoRequest{Repo: "acme/web"}); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	spans := recorder.Ended()
	var names []string
	for _, span := range spans {
		names = append(names, span.Name())
	}
	// Tool spans end before the session span.
	if diff := cmp.Diff([]string{"safeops.tool", "safeops.tool", "safeops.session"}, names); diff != "" {
		t.Fatalf("spans (-want +got):\n%s", diff)
	}

	root := spans[2]
	for _, span := range spans[:2] {
		if span.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Errorf("span %s is not a child of the session span", span.Name())
		}
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range root.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["safeops.outcome"].AsString(); got != string(Completed) {
		t.Errorf("safeops.outcome = %q, wanted %q", got, Completed)
	}
	if got := attrs["safeops.total_tokens"].AsInt64(); got != 40 {
		t.Errorf("safeops.total_tokens = %d, wanted 40", got)
	}
}
