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

	"chainguard.dev/safeops/agents/metrics"
	"chainguard.dev/safeops/agents/promptbuilder"
	"chainguard.dev/safeops/agents/retry"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultModel is used when WithModel is not given.
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultMaxIterations bounds model calls when WithMaxIterations is not given.
	DefaultMaxIterations = 10
	// DefaultMaxTokens is the per-response output ceiling.
	DefaultMaxTokens int64 = 1800

	tracerName = "chainguard.dev/safeops/agents/session"
	meterName  = "chainguard.ai.agents"
)

// MessageClient sends one request to the model. *anthropic.MessageService
// satisfies it.
type MessageClient interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

var _ MessageClient = (*anthropic.MessageService)(nil)

// Dispatcher declares and executes the tools offered to the model.
type Dispatcher interface {
	Definitions() []anthropic.ToolUnionParam
	Dispatch(ctx context.Context, name string, input json.RawMessage) map[string]any
}

// Outcome is why a session stopped.
type Outcome string

const (
	// Completed means the model ended with a text turn.
	Completed Outcome = "completed"
	// BudgetExceeded means cumulative tokens went over the budget.
	BudgetExceeded Outcome = "budget_exceeded"
	// IterationLimit means the model was still calling tools at the limit.
	IterationLimit Outcome = "iteration_limit"
	// TransportFailure means the model call failed after retries.
	TransportFailure Outcome = "transport_failure"
)

// TransportError wraps a model call that could not be completed.
type TransportError struct {
	Iteration int
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model call failed on iteration %d: %v", e.Iteration, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Usage is the token count one model response reported.
type Usage struct {
	Iteration    int   `json:"iteration"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total is input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// ToolCall records one dispatched tool invocation.
type ToolCall struct {
	Iteration int    `json:"iteration"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Failed    bool   `json:"failed"`
}

// Report summarizes a finished session.
type Report struct {
	Outcome     Outcome    `json:"outcome"`
	Iterations  int        `json:"iterations"`
	Usage       []Usage    `json:"usage"`
	TotalTokens int64      `json:"total_tokens"`
	Budget      int64      `json:"budget"`
	ToolCalls   []ToolCall `json:"tool_calls"`
	// FinalText is the model's closing text, if it produced one.
	FinalText string `json:"final_text,omitempty"`
	// Transcript is every message exchanged, starting with the request.
	Transcript []anthropic.MessageParam `json:"-"`
}

func (r *Report) overBudget() bool {
	return r.Budget > 0 && r.TotalTokens > r.Budget
}

// Session runs bounded tool-calling conversations. A Session may be run more
// than once; each Run starts a fresh transcript.
type Session struct {
	client        MessageClient
	dispatcher    Dispatcher
	prompt        *promptbuilder.Prompt
	system        *promptbuilder.Prompt
	model         string
	maxTokens     int64
	maxIterations int
	budget        int64
	retry         retry.Config
	metrics       *metrics.Session
	enricher      metrics.AttributeEnricher
	tracer        trace.Tracer
}

// New creates a Session. prompt is the first user turn; each Run binds its
// request into it.
func New(client MessageClient, dispatcher Dispatcher, prompt *promptbuilder.Prompt, opts ...Option) (*Session, error) {
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if prompt == nil {
		return nil, errors.New("prompt cannot be nil")
	}

	s := &Session{
		client:        client,
		dispatcher:    dispatcher,
		prompt:        prompt,
		model:         DefaultModel,
		maxTokens:     DefaultMaxTokens,
		maxIterations: DefaultMaxIterations,
		retry:         retry.Default(),
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewSession(meterName)
	}
	if s.enricher != nil {
		s.metrics.SetAttributeEnricher(s.enricher)
	}
	return s, nil
}

// Run binds request into the prompt and converses until a termination
// condition holds. The report is returned even when err is a TransportError.
func (s *Session) Run(ctx context.Context, request promptbuilder.Bindable) (report *Report, err error) {
	bound, err := request.Bind(s.prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to bind request to prompt: %w", err)
	}
	prompt, err := bound.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
		}},
		Tools: s.dispatcher.Definitions(),
	}
	if s.system != nil {
		system, err := s.system.Build()
		if err != nil {
			return nil, fmt.Errorf("building system prompt: %w", err)
		}
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	ctx, span := s.tracer.Start(ctx, "safeops.session", trace.WithAttributes(
		attribute.String("gen_ai.request.model", s.model),
		attribute.Int("safeops.max_iterations", s.maxIterations),
		attribute.Int64("safeops.token_budget", s.budget),
	))
	log := clog.FromContext(ctx).With("model", s.model)
	ctx = clog.WithLogger(ctx, log)

	report = &Report{Budget: s.budget}
	defer func() {
		report.Transcript = params.Messages
		span.SetAttributes(
			attribute.String("safeops.outcome", string(report.Outcome)),
			attribute.Int("safeops.iterations", report.Iterations),
			attribute.Int64("safeops.total_tokens", report.TotalTokens),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.RecordOutcome(ctx, s.model, string(report.Outcome))
		log.With("outcome", report.Outcome).
			With("iterations", report.Iterations).
			With("total_tokens", report.TotalTokens).
			Info("Session finished")
	}()

	log.With("prompt_length", len(prompt)).
		With("max_iterations", s.maxIterations).
		With("budget", s.budget).
		Info("Starting session")

	for iteration := 1; ; iteration++ {
		if report.overBudget() {
			report.Outcome = BudgetExceeded
			return report, nil
		}
		if iteration > s.maxIterations {
			report.Outcome = IterationLimit
			return report, nil
		}
		report.Iterations = iteration

		callCtx := clog.WithLogger(ctx, log.With("iteration", iteration))
		message, err := retry.Do(callCtx, s.retry, retry.Classify, func() (*anthropic.Message, error) {
			return s.client.New(ctx, params)
		})
		if err != nil {
			report.Outcome = TransportFailure
			return report, &TransportError{Iteration: iteration, Err: err}
		}

		usage := Usage{
			Iteration:    iteration,
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		}
		report.Usage = append(report.Usage, usage)
		report.TotalTokens += usage.Total()
		s.metrics.RecordTokens(ctx, s.model, usage.InputTokens, usage.OutputTokens)
		log.With("iteration", iteration).
			With("input_tokens", usage.InputTokens).
			With("output_tokens", usage.OutputTokens).
			With("total_tokens", report.TotalTokens).
			Info("Model responded")

		if report.overBudget() {
			log.Warnf("Budget exceeded: %d/%d tokens", report.TotalTokens, s.budget)
			report.Outcome = BudgetExceeded
			return report, nil
		}

		var (
			toolUses []anthropic.ContentBlockUnion
			text     string
		)
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				text = block.Text
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}

		if len(toolUses) == 0 {
			report.FinalText = text
			report.Outcome = Completed
			params.Messages = append(params.Messages, message.ToParam())
			return report, nil
		}

		params.Messages = append(params.Messages, message.ToParam())
		results := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
		for _, use := range toolUses {
			result, failed := s.executeToolCall(ctx, iteration, use)
			report.ToolCalls = append(report.ToolCalls, ToolCall{
				Iteration: iteration,
				ID:        use.ID,
				Name:      use.Name,
				Failed:    failed,
			})
			results = append(results, result)
		}
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRoleUser,
			Content: results,
		})
	}
}

// executeToolCall dispatches one tool_use block and wraps its result for the
// next user turn.
func (s *Session) executeToolCall(ctx context.Context, iteration int, use anthropic.ContentBlockUnion) (anthropic.ContentBlockParamUnion, bool) {
	ctx, span := s.tracer.Start(ctx, "safeops.tool", trace.WithAttributes(
		attribute.String("gen_ai.tool.name", use.Name),
		attribute.String("gen_ai.tool.call.id", use.ID),
		attribute.Int("safeops.iteration", iteration),
	))
	defer span.End()

	clog.FromContext(ctx).With("tool", use.Name).
		With("id", use.ID).
		Info("Executing tool call")

	result := s.dispatcher.Dispatch(ctx, use.Name, use.Input)
	_, failed := result["error"]

	text, err := json.Marshal(result)
	if err != nil {
		text, _ = json.Marshal(map[string]any{
			"error": fmt.Sprintf("failed to marshal tool result: %v", err),
		})
		failed = true
	}
	if failed {
		span.SetStatus(codes.Error, "tool returned an error")
	}
	s.metrics.RecordToolCall(ctx, s.model, use.Name, failed)

	return anthropic.ContentBlockParamUnion{
		OfToolResult: &anthropic.ToolResultBlockParam{
			ToolUseID: use.ID,
			Content: []anthropic.ToolResultBlockParamContentUnion{{
				OfText: &anthropic.TextBlockParam{Text: string(text)},
			}},
			IsError: anthropic.Bool(failed),
		},
	}, failed
}
