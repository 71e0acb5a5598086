package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/deixis/smoke/internal/report"
	"github.com/deixis/smoke/internal/scenario"
)

// printResults renders one row per scenario. With verbose set, the full
// error and captured output of every failure follow the table.
func printResults(w io.Writer, result *report.RunResult, verbose bool) {
	passed, failed := result.Counts()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Smoke Results (%s)", formatDuration(result.Duration)))
	t.AppendHeader(table.Row{"Scenario", "Status", "Kind", "Attempts", "Duration", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 60},
	})

	for _, s := range result.Scenarios {
		t.AppendRow(table.Row{
			s.Name,
			statusString(s.Status),
			s.Kind,
			s.Attempts,
			formatDuration(s.Duration),
			firstLine(s.Error),
		})
	}

	if failed == 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d/%d passed", passed, passed+failed),
		"",
		"",
		formatDuration(result.Duration),
		"",
	})
	t.Render()

	fmt.Fprintf(w, "Run: %s\n", result.ID)
	if !verbose {
		return
	}
	for _, s := range report.Failures(result) {
		fmt.Fprintf(w, "\n--- %s (%s)\n%s\n", s.Name, s.Kind, s.Error)
		if len(s.Argv) > 0 {
			fmt.Fprintf(w, "command: %s\n", strings.Join(s.Argv, " "))
		}
		if s.ExitCode != nil {
			fmt.Fprintf(w, "exit code: %d\n", *s.ExitCode)
		}
		if s.Truncated {
			fmt.Fprintln(w, "stdout truncated at max_output")
		}
		if s.Stdout != "" {
			fmt.Fprintf(w, "stdout:\n%s", ensureNewline(s.Stdout))
		}
		if s.Stderr != "" {
			fmt.Fprintf(w, "stderr:\n%s", ensureNewline(s.Stderr))
		}
	}
}

func printCatalogue(w io.Writer, catalogue []scenario.Scenario) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Scenario", "Description"})
	for _, s := range catalogue {
		t.AppendRow(table.Row{s.Name, s.Description})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func statusString(s report.Status) string {
	if s == report.Pass {
		return "PASS"
	}
	return "FAIL"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
