/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/safeops/agents/metrics"
	"chainguard.dev/safeops/agents/promptbuilder"
	"chainguard.dev/safeops/agents/retry"
)

// Option configures a Session.
type Option func(*Session) error

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(s *Session) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model (expected claude-* format)", model)
		}
		s.model = model
		return nil
	}
}

// WithMaxTokens sets the per-response output ceiling.
func WithMaxTokens(tokens int64) Option {
	return func(s *Session) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		if tokens > 32000 {
			return fmt.Errorf("max tokens %d exceeds maximum of 32000", tokens)
		}
		s.maxTokens = tokens
		return nil
	}
}

// WithMaxIterations bounds the number of model calls.
func WithMaxIterations(n int) Option {
	return func(s *Session) error {
		if n <= 0 {
			return fmt.Errorf("max iterations must be positive, got %d", n)
		}
		s.maxIterations = n
		return nil
	}
}

// WithTokenBudget caps cumulative input plus output tokens. Zero means unlimited.
func WithTokenBudget(tokens int64) Option {
	return func(s *Session) error {
		if tokens < 0 {
			return fmt.Errorf("token budget cannot be negative, got %d", tokens)
		}
		s.budget = tokens
		return nil
	}
}

// WithSystemInstructions sets the system preamble. The prompt must be fully
// bound.
func WithSystemInstructions(prompt *promptbuilder.Prompt) Option {
	return func(s *Session) error {
		if prompt == nil {
			return errors.New("system instructions prompt cannot be nil")
		}
		s.system = prompt
		return nil
	}
}

// WithRetryConfig sets how transient model errors are retried.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Session) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		s.retry = cfg
		return nil
	}
}

// WithMetrics replaces the default counters, which report into the global
// meter provider.
func WithMetrics(m *metrics.Session) Option {
	return func(s *Session) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		s.metrics = m
		return nil
	}
}

// WithAttributeEnricher adds contextual attributes to every recorded metric.
func WithAttributeEnricher(enricher metrics.AttributeEnricher) Option {
	return func(s *Session) error {
		s.enricher = enricher
		return nil
	}
}
