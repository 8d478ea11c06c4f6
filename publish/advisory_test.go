/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type funcAdvisory struct {
	name string
	fn   func() error
}

func (f funcAdvisory) Name() string                                 { return f.name }
func (f funcAdvisory) Advise(context.Context, *ChangeRequest) error { return f.fn() }

func TestRunAdvisoriesIsolatesFailures(t *testing.T) {
	var ran []string
	advisories := []Advisory{
		funcAdvisory{name: "fails", fn: func() error { ran = append(ran, "fails"); return errors.New("boom") }},
		funcAdvisory{name: "panics", fn: func() error { ran = append(ran, "panics"); panic("oops") }},
		funcAdvisory{name: "works", fn: func() error { ran = append(ran, "works"); return nil }},
	}

	results := RunAdvisories(context.Background(), advisories, &ChangeRequest{Number: 1})

	if diff := cmp.Diff([]string{"fails", "panics", "works"}, ran); diff != "" {
		t.Errorf("ran mismatch (-want +got):\n%s", diff)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, wanted 3", len(results))
	}
	if results[0].Err == nil || results[1].Err == nil {
		t.Errorf("results = %+v, wanted errors for the first two", results)
	}
	if !strings.Contains(results[1].Err.Error(), "panic") {
		t.Errorf("panic result = %v", results[1].Err)
	}
	if results[2].Err != nil {
		t.Errorf("works = %v, wanted nil", results[2].Err)
	}
}

func TestWebhookText(t *testing.T) {
	cr := &ChangeRequest{
		Title: "Fix typo",
		URL:   "https://github.com/acme/web/pull/7",
		Body:  strings.Repeat("é", 250),
	}
	got := WebhookText(cr)
	want := "New bot PR: Fix typo\nhttps://github.com/acme/web/pull/7\n\n" + strings.Repeat("é", 200) + "..."
	if got != want {
		t.Errorf("WebhookText() = %q, wanted %q", got, want)
	}
}

func TestWebhookAdvisory(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding: %v", err)
		}
	}))
	defer srv.Close()

	cr := &ChangeRequest{Title: "T", URL: "https://example/pr/1", Body: "short"}
	if err := NewWebhookAdvisory(srv.URL).Advise(context.Background(), cr); err != nil {
		t.Fatalf("Advise() = %v", err)
	}
	if got["text"] != WebhookText(cr) {
		t.Errorf("text = %q, wanted %q", got["text"], WebhookText(cr))
	}
}

func TestWebhookAdvisoryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := NewWebhookAdvisory(srv.URL).Advise(context.Background(), &ChangeRequest{}); err == nil {
		t.Error("Advise() = nil, wanted error for 403")
	}
}
