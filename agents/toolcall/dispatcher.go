/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"chainguard.dev/safeops/policy"
	"chainguard.dev/safeops/publish"
	"chainguard.dev/safeops/workspace"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
)

// Workspace is the file and check surface the tools operate on.
type Workspace interface {
	ReadGlob(ctx context.Context, pattern string) (*workspace.ReadResult, error)
	Write(ctx context.Context, path, content string) error
	RunChecks(ctx context.Context) (*workspace.CheckReport, error)
}

// Dispatcher executes decoded tool calls and remembers what was published.
type Dispatcher struct {
	ws        Workspace
	publisher publish.Publisher
	maxLOC    int
	published []publish.ChangeRequest
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxLOC sets the diff-size hint reported with open_pr results.
func WithMaxLOC(n int) Option {
	return func(d *Dispatcher) { d.maxLOC = n }
}

// NewDispatcher routes tool calls to ws and publisher.
func NewDispatcher(ws Workspace, publisher publish.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{ws: ws, publisher: publisher, maxLOC: policy.DefaultMaxLOC}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Definitions returns the tool declarations for model requests.
func (d *Dispatcher) Definitions() []anthropic.ToolUnionParam {
	return Definitions()
}

// ChangeRequests returns every change request published so far.
func (d *Dispatcher) ChangeRequests() []publish.ChangeRequest {
	return append([]publish.ChangeRequest(nil), d.published...)
}

// Dispatch decodes and executes one raw tool call. It never returns a Go
// error; failures are reported in the result map.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input json.RawMessage) map[string]any {
	log := clog.FromContext(ctx).With("tool", name)

	call, err := Decode(name, input)
	if err != nil {
		log.Warnf("Rejected tool call: %v", err)
		var uerr *UnknownToolError
		if errors.As(err, &uerr) {
			return ErrorWithContext(err, map[string]any{"available": Names()})
		}
		return Error("%s", err)
	}
	return d.Execute(clog.WithLogger(ctx, log), call)
}

// Execute runs a decoded call.
func (d *Dispatcher) Execute(ctx context.Context, call Call) map[string]any {
	switch c := call.(type) {
	case ReadRepoArgs:
		return d.readRepo(ctx, c)
	case WriteFileArgs:
		return d.writeFile(ctx, c)
	case RunChecksArgs:
		return d.runChecks(ctx)
	case OpenPRArgs:
		return d.openPR(ctx, c)
	default:
		return Error("unsupported call type %T", call)
	}
}

func (d *Dispatcher) readRepo(ctx context.Context, c ReadRepoArgs) map[string]any {
	res, err := d.ws.ReadGlob(ctx, c.Glob)
	if err != nil {
		return Error("%s", err)
	}
	out := map[string]any{
		"files":     res.Files,
		"count":     len(res.Files),
		"truncated": res.Truncated,
	}
	if res.Skipped > 0 {
		out["skipped"] = res.Skipped
	}
	return out
}

func (d *Dispatcher) writeFile(ctx context.Context, c WriteFileArgs) map[string]any {
	if err := d.ws.Write(ctx, c.Path, c.Content); err != nil {
		var perr *policy.Error
		if errors.As(err, &perr) {
			clog.FromContext(ctx).With("path", c.Path).Warn("Write blocked by policy")
		}
		return Error("%s", err)
	}
	return map[string]any{"ok": true}
}

func (d *Dispatcher) runChecks(ctx context.Context) map[string]any {
	report, err := d.ws.RunChecks(ctx)
	if err != nil {
		return Error("%s", err)
	}
	return report.Map()
}

func (d *Dispatcher) openPR(ctx context.Context, c OpenPRArgs) map[string]any {
	cr, err := d.publisher.Publish(ctx, publish.Request{Title: c.Title, Body: c.Body, Branch: c.Branch})
	var uerr *publish.UnpublishedError
	switch {
	case errors.As(err, &uerr):
		return ErrorWithContext(err, map[string]any{"branch": uerr.Branch, "commit": uerr.Commit})
	case errors.Is(err, publish.ErrNothingToCommit):
		return Error("nothing to commit: no files changed since the last commit")
	case err != nil:
		return Error("%s", err)
	}
	d.published = append(d.published, *cr)

	out := map[string]any{
		"url":    cr.URL,
		"number": cr.Number,
		"branch": cr.Branch,
		"commit": cr.Commit,
		"draft":  cr.Draft,
	}
	if cr.DryRun {
		out["dry_run"] = true
	}
	if cr.Diff != nil {
		out["diff"] = cr.Diff
		out["max_loc"] = d.maxLOC
		out["exceeds_max_loc"] = cr.Diff.Lines() > d.maxLOC
	}
	return out
}

// Error builds an error result.
func Error(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

// ErrorWithContext builds an error result carrying extra fields.
func ErrorWithContext(err error, extra map[string]any) map[string]any {
	out := map[string]any{"error": err.Error()}
	maps.Copy(out, extra)
	return out
}

// IsError reports whether a result describes a failure.
func IsError(result map[string]any) bool {
	_, ok := result["error"]
	return ok
}
