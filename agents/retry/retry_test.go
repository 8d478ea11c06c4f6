/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chainguard.dev/safeops/agents/retry"
	"github.com/anthropics/anthropic-sdk-go"
)

func fastConfig() retry.Config {
	return retry.Config{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

func always(error) retry.Reason { return retry.Overloaded }

func never(error) retry.Reason { return retry.Permanent }

func apiError(status int) *anthropic.Error {
	return &anthropic.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: status, Header: http.Header{}},
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   retry.Reason
	}{
		{429, retry.RateLimited},
		{529, retry.Overloaded},
		{500, retry.Unavailable},
		{502, retry.Unavailable},
		{503, retry.Unavailable},
		{504, retry.Unavailable},
		{400, retry.Permanent},
		{401, retry.Permanent},
		{404, retry.Permanent},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", apiError(tt.status))
		if got := retry.Classify(err); got != tt.want {
			t.Errorf("Classify(%d) = %s, wanted %s", tt.status, got, tt.want)
		}
	}
	if got := retry.Classify(errors.New("connection reset")); got != retry.Permanent {
		t.Errorf("Classify(plain) = %s, wanted %s", got, retry.Permanent)
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	got, err := retry.Do(context.Background(), fastConfig(), always, func() (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, wanted %q", got, "ok")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, wanted 1", n)
	}
}

func TestDoRecovers(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	got, err := retry.Do(context.Background(), fastConfig(), retry.Classify, func() (int, error) {
		if calls.Add(1) < 3 {
			return 0, apiError(529)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, wanted 42", got)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, wanted 3", n)
	}
}

func TestDoExhausted(t *testing.T) {
	t.Parallel()
	transient := apiError(http.StatusServiceUnavailable)
	var calls atomic.Int32
	_, err := retry.Do(context.Background(), fastConfig(), retry.Classify, func() (string, error) {
		calls.Add(1)
		return "", transient
	})
	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("Do() = %v, wanted *retry.Error", err)
	}
	if rerr.Attempts != 4 || rerr.Reason != retry.Unavailable {
		t.Errorf("Error = {Attempts: %d, Reason: %s}, wanted {4, unavailable}", rerr.Attempts, rerr.Reason)
	}
	if !errors.Is(err, transient) {
		t.Errorf("Do() does not wrap the last failure")
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("calls = %d, wanted 4", n)
	}
}

func TestDoPermanentError(t *testing.T) {
	t.Parallel()
	permanent := errors.New("401 unauthorized")
	var calls atomic.Int32
	_, err := retry.Do(context.Background(), fastConfig(), never, func() (string, error) {
		calls.Add(1)
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() = %v, wanted %v", err, permanent)
	}
	var rerr *retry.Error
	if !errors.As(err, &rerr) || rerr.Attempts != 1 || rerr.Reason != retry.Permanent {
		t.Errorf("Do() = %#v, wanted one permanent attempt", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, wanted 1", n)
	}
}

func TestDoZeroRetries(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.MaxRetries = 0
	var calls atomic.Int32
	if _, err := retry.Do(context.Background(), cfg, always, func() (string, error) {
		calls.Add(1)
		return "", errors.New("429")
	}); err == nil {
		t.Fatal("Do() = nil, wanted error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, wanted 1", n)
	}
}

func TestDoContextCancelled(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.BaseBackoff = time.Minute
	cfg.MaxBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	_, err := retry.Do(ctx, cfg, always, func() (string, error) {
		cancel()
		return "", errors.New("429")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, wanted context.Canceled", err)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	cfg := retry.Config{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second} {
		if got := cfg.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, wanted %v", attempt, got, want)
		}
	}
	if got := cfg.Backoff(64); got != 5*time.Second {
		t.Errorf("Backoff(64) = %v, wanted cap", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := retry.Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
	for _, cfg := range []retry.Config{
		{MaxRetries: -1},
		{BaseBackoff: -1},
		{MaxBackoff: -1},
		{MaxJitter: -1},
	} {
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, wanted error", cfg)
		}
	}
}
