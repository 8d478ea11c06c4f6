/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"io"
	"strconv"

	"chainguard.dev/safeops/agents/session"
	"chainguard.dev/safeops/publish"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

func newUsageTable(w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader([]string{"Iteration", "Input", "Output", "Total"}),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

// writeSummary prints per-iteration token usage, the outcome and anything
// that was published.
func writeSummary(w io.Writer, report *session.Report, published []publish.ChangeRequest) error {
	table := newUsageTable(w)
	var running int64
	for _, u := range report.Usage {
		running += u.Total()
		if err := table.Append([]string{
			strconv.Itoa(u.Iteration),
			strconv.FormatInt(u.InputTokens, 10),
			strconv.FormatInt(u.OutputTokens, 10),
			strconv.FormatInt(running, 10),
		}); err != nil {
			return fmt.Errorf("appending usage row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering usage table: %w", err)
	}

	budget := "unlimited"
	if report.Budget > 0 {
		budget = strconv.FormatInt(report.Budget, 10)
	}
	fmt.Fprintf(w, "\nOutcome: %s after %d iteration(s)\n", report.Outcome, report.Iterations)
	fmt.Fprintf(w, "Token budget: %s\n", budget)
	fmt.Fprintf(w, "Total tokens used: %d\n", report.TotalTokens)

	if len(published) == 0 {
		fmt.Fprintln(w, "No change request was created.")
		return nil
	}
	for _, cr := range published {
		switch {
		case cr.DryRun:
			fmt.Fprintf(w, "Dry run: committed %s on branch %s\n", cr.Commit, cr.Branch)
		default:
			fmt.Fprintf(w, "Opened draft pull request #%d: %s\n", cr.Number, cr.URL)
		}
	}
	return nil
}
