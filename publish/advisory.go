/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// Advisory is a best-effort step run after a change request is opened.
type Advisory interface {
	Name() string
	Advise(ctx context.Context, cr *ChangeRequest) error
}

// AdvisoryResult records how one advisory went.
type AdvisoryResult struct {
	Name string
	Err  error
}

// RunAdvisories runs each advisory in order. A failing or panicking
// advisory is logged and does not stop the rest.
func RunAdvisories(ctx context.Context, advisories []Advisory, cr *ChangeRequest) []AdvisoryResult {
	results := make([]AdvisoryResult, 0, len(advisories))
	for _, a := range advisories {
		err := runAdvisory(ctx, a, cr)
		log := clog.FromContext(ctx).With("advisory", a.Name())
		if err != nil {
			log.Warnf("Advisory failed: %v", err)
		} else {
			log.Info("Advisory succeeded")
		}
		results = append(results, AdvisoryResult{Name: a.Name(), Err: err})
	}
	return results
}

func runAdvisory(ctx context.Context, a Advisory, cr *ChangeRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.Advise(ctx, cr)
}

type labelAdvisory struct {
	client *github.Client
	labels []string
}

// NewLabelAdvisory attaches labels to the pull request.
func NewLabelAdvisory(client *github.Client, labels ...string) Advisory {
	return &labelAdvisory{client: client, labels: labels}
}

func (*labelAdvisory) Name() string { return "label" }

func (l *labelAdvisory) Advise(ctx context.Context, cr *ChangeRequest) error {
	owner, repo, err := SplitOwnerRepo(cr.Repository)
	if err != nil {
		return err
	}
	if _, _, err := l.client.Issues.AddLabelsToIssue(ctx, owner, repo, cr.Number, l.labels); err != nil {
		return fmt.Errorf("adding labels %v: %w", l.labels, err)
	}
	return nil
}

type reviewerAdvisory struct {
	client    *github.Client
	reviewers []string
}

// NewReviewerAdvisory requests review from the given users.
func NewReviewerAdvisory(client *github.Client, reviewers ...string) Advisory {
	return &reviewerAdvisory{client: client, reviewers: reviewers}
}

func (*reviewerAdvisory) Name() string { return "reviewers" }

func (r *reviewerAdvisory) Advise(ctx context.Context, cr *ChangeRequest) error {
	owner, repo, err := SplitOwnerRepo(cr.Repository)
	if err != nil {
		return err
	}
	if _, _, err := r.client.PullRequests.RequestReviewers(ctx, owner, repo, cr.Number, github.ReviewersRequest{
		Reviewers: r.reviewers,
	}); err != nil {
		return fmt.Errorf("requesting review from %v: %w", r.reviewers, err)
	}
	return nil
}

type webhookAdvisory struct {
	url    string
	client *http.Client
}

// NewWebhookAdvisory posts a short summary to a Slack-compatible incoming
// webhook.
func NewWebhookAdvisory(url string) Advisory {
	return &webhookAdvisory{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (*webhookAdvisory) Name() string { return "webhook" }

// WebhookText renders the notification for a change request.
func WebhookText(cr *ChangeRequest) string {
	body := []rune(cr.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("New bot PR: %s\n%s\n\n%s...", cr.Title, cr.URL, string(body))
}

func (w *webhookAdvisory) Advise(ctx context.Context, cr *ChangeRequest) error {
	payload, err := json.Marshal(map[string]string{"text": WebhookText(cr)})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
