package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/smoke/internal/report"
	"github.com/deixis/smoke/internal/scenario"
)

type listParams struct{}

func (h *handler) listHandler(ctx context.Context, req *mcp.CallToolRequest, _ listParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	catalogue := h.catalogue
	h.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Scenarios: %d\n\n", len(catalogue))
	for _, s := range catalogue {
		fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Description)
	}
	return textResult(b.String())
}

type runParams struct {
	Scenarios []string `json:"scenarios,omitempty" jsonschema:"names of the scenarios to run (see smoke_list). Defaults to the scenarios in .smoke, or all of them."`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := params.Scenarios
	if len(names) == 0 {
		names = h.defaults
	}
	selected, err := scenario.Select(h.catalogue, names)
	if err != nil {
		return errorResult(err.Error())
	}

	rep := h.runner.RunAll(ctx, selected)
	result := rep.RunResult()

	// Save results for smoke_inspect.
	_ = h.store.Save(result)

	return textResult(formatRun(result))
}

func formatRun(result *report.RunResult) string {
	var b strings.Builder

	passed, failed := result.Counts()
	status := "PASS"
	if failed > 0 {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "Status: %s (%d passed, %d failed)\n", status, passed, failed)
	fmt.Fprintf(&b, "Run: %s\n", result.ID)
	fmt.Fprintln(&b)

	for _, s := range result.Scenarios {
		if s.Status == report.Pass {
			fmt.Fprintf(&b, "%s: pass (%s)\n", s.Name, s.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Fprintf(&b, "%s: fail [%s] %s\n", s.Name, s.Kind, firstLine(s.Error))
	}

	if failed > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Inspect with smoke_inspect(run_id=%q, scenario=\"<name>\").\n", result.ID)
	}
	return b.String()
}

type inspectParams struct {
	RunID    string `json:"run_id" jsonschema:"the run ID from a smoke_run result"`
	Scenario string `json:"scenario" jsonschema:"the scenario name, e.g. arping-gateway"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if params.Scenario == "" {
		return errorResult("scenario is required")
	}

	result, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	s, err := report.ByScenario(result, params.Scenario)
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(formatInspect(params.RunID, s))
}

func formatInspect(runID string, s *report.ScenarioResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", runID)
	if s.Status == report.Pass {
		fmt.Fprintf(&b, "%s: PASS in %s", s.Name, s.Duration.Round(time.Millisecond))
		if s.Attempts > 1 {
			fmt.Fprintf(&b, " after %d attempts", s.Attempts)
		}
		fmt.Fprintln(&b)
		return b.String()
	}

	fmt.Fprintf(&b, "%s: FAIL (%s)", s.Name, s.Kind)
	if s.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", s.Attempts)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Error:\n%s\n", indent(s.Error))

	if len(s.Argv) > 0 {
		fmt.Fprintf(&b, "\nCommand: %s\n", strings.Join(s.Argv, " "))
	}
	if s.ExitCode != nil {
		fmt.Fprintf(&b, "Exit code: %d\n", *s.ExitCode)
	}
	if s.Truncated {
		fmt.Fprintln(&b, "Stdout truncated at max_output")
	}
	if s.Expected != "" || s.Actual != "" {
		fmt.Fprintf(&b, "\nExpected:\n%s\n", indent(s.Expected))
		fmt.Fprintf(&b, "Actual:\n%s\n", indent(s.Actual))
	}
	if s.Stdout != "" {
		fmt.Fprintf(&b, "\nStdout:\n%s\n", indent(s.Stdout))
	}
	if s.Stderr != "" {
		fmt.Fprintf(&b, "\nStderr:\n%s\n", indent(s.Stderr))
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
