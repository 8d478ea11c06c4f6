/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry re-issues Claude requests that failed for transient reasons:
// rate limits, overload and gateway errors. Everything else fails on the
// first attempt.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
)

// Reason classifies why a model request failed.
type Reason string

const (
	// Permanent failures are returned without retrying.
	Permanent Reason = "permanent"
	// RateLimited is HTTP 429.
	RateLimited Reason = "rate_limited"
	// Overloaded is the API's 529.
	Overloaded Reason = "overloaded"
	// Unavailable covers 500, 502, 503 and 504.
	Unavailable Reason = "unavailable"
)

// Retryable reports whether a request failing for r is worth re-issuing.
func (r Reason) Retryable() bool { return r != Permanent }

// Classify maps an error from the Claude API to a Reason. Errors that did not
// come back as an API response are Permanent.
func Classify(err error) Reason {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return Permanent
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return RateLimited
	case 529:
		return Overloaded
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Unavailable
	default:
		return Permanent
	}
}

// retryAfter returns the server's Retry-After hint in whole seconds, or zero.
func retryAfter(err error) time.Duration {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return 0
	}
	secs, perr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After"))
	if perr != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Error is returned by Do when a request failed for good.
type Error struct {
	// Attempts is how many times the request was sent.
	Attempts int
	// Reason is the classification of the last failure.
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model request failed after %d attempt(s) (%s): %v", e.Attempts, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config bounds how often and how slowly a failing request is re-issued.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retrying.
	MaxRetries int
	// BaseBackoff is the delay before the first retry. It doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubled delay and any Retry-After hint.
	MaxBackoff time.Duration
	// MaxJitter is the upper bound of the random delay added to each wait.
	MaxJitter time.Duration
}

// Validate rejects negative settings.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return errors.New("max retries cannot be negative")
	case c.BaseBackoff < 0:
		return errors.New("base backoff cannot be negative")
	case c.MaxBackoff < 0:
		return errors.New("max backoff cannot be negative")
	case c.MaxJitter < 0:
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// Default suits rate-limited model endpoints, which tend to need seconds
// rather than milliseconds to recover.
func Default() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  60 * time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Backoff returns the un-jittered delay before retry number attempt (zero based).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt > 30 {
		return c.MaxBackoff
	}
	return min(c.BaseBackoff<<attempt, c.MaxBackoff)
}

// wait is the delay before retry number attempt. A Retry-After hint longer
// than the computed backoff wins, up to MaxBackoff.
func (c Config) wait(attempt int, err error) time.Duration {
	d := c.Backoff(attempt) + c.jitter()
	if hint := min(retryAfter(err), c.MaxBackoff); hint > d {
		d = hint
	}
	return d
}

func (c Config) jitter() time.Duration {
	if c.MaxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(c.MaxJitter)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// Do sends a request through fn until it succeeds, classify calls a failure
// Permanent, the retries run out, or ctx is done. Failures come back as
// *Error; cancellation returns ctx.Err(). Pass Classify for Claude requests.
func Do[T any](ctx context.Context, cfg Config, classify func(error) Reason, fn func() (T, error)) (T, error) {
	log := clog.FromContext(ctx)
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		reason := classify(err)
		if !reason.Retryable() || attempt >= cfg.MaxRetries {
			return result, &Error{Attempts: attempt + 1, Reason: reason, Err: err}
		}

		wait := cfg.wait(attempt, err)
		log.With("reason", string(reason)).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", wait).
			Warn("Model request failed, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}
}
