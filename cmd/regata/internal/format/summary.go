// Copyright 2025 Regata Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package format

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/regata-dev/regata/pkg/report"
)

// PrintReport renders a batch report. JSON mode emits the report structure
// verbatim; table mode prints one row per run grouped by provider, followed
// by a totals line.
func (f *formatter) PrintReport(rep *report.Report) error {
	if f.mode == ModeJSON {
		return f.PrintJSON(rep)
	}

	headers := []string{"Provider", "Scanner", "Test", "Status", "Duration", "Details"}
	var rows [][]string
	for _, pr := range rep.Providers {
		for _, rr := range pr.Runs {
			rows = append(rows, []string{
				pr.Provider,
				rr.ScannerID,
				rr.TestName,
				f.colorState(rr.State),
				fmt.Sprintf("%.0fs", rr.Seconds),
				runDetails(rr),
			})
		}
	}

	if err := f.PrintTable(headers, rows); err != nil {
		return err
	}

	return f.PrintSummary(totalsLine(rep))
}

// colorState highlights terminal states in table mode.
func (f *formatter) colorState(state string) string {
	if !f.color {
		return state
	}
	switch state {
	case "succeeded":
		return color.GreenString(state)
	case "failed":
		return color.RedString(state)
	default:
		return color.YellowString(state)
	}
}

// runDetails prefers the run URL so a failing run is one click away,
// falling back to the terminal message.
func runDetails(rr report.RunResult) string {
	if rr.RunURL != "" {
		return rr.RunURL
	}
	return rr.Message
}

func totalsLine(rep *report.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%d runs: %d succeeded", rep.TotalRuns(), rep.Totals.Succeeded)
	if rep.Totals.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", rep.Totals.Failed)
	}
	if rep.Totals.TimedOut > 0 {
		fmt.Fprintf(&sb, ", %d timed out", rep.Totals.TimedOut)
	}
	if rep.Totals.Errored > 0 {
		fmt.Fprintf(&sb, ", %d errored", rep.Totals.Errored)
	}
	return sb.String()
}
