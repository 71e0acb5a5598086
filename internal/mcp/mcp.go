// Package mcp provides the smoke MCP server, registering the run, list
// and inspect tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/smoke"
	"github.com/deixis/smoke/internal/config"
	"github.com/deixis/smoke/internal/locate"
	"github.com/deixis/smoke/internal/probe"
	"github.com/deixis/smoke/internal/report"
	"github.com/deixis/smoke/internal/scenario"
	"github.com/deixis/smoke/internal/subject"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	// mu serialises runs: one subject may be up at a time.
	mu        sync.Mutex
	catalogue []scenario.Scenario
	defaults  []string // scenarios smoke_run selects when given none
	runner    *scenario.Runner
	store     report.Store
}

// NewServer creates an MCP server running the scenarios of cfg through
// runner. Reports are saved to store for smoke_inspect.
func NewServer(cfg *config.Config, runner *scenario.Runner, store report.Store) (*mcp.Server, error) {
	h := &handler{
		runner: runner,
		store:  store,
	}
	if err := h.configure(cfg); err != nil {
		return nil, err
	}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "smoke", Version: smoke.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "smoke_list",
		Description: "List the smoke scenarios that smoke_run can execute, in run order.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "smoke_run",
		Description: `Run smoke scenarios against the network stack and report pass/fail per scenario.

Runs every scenario by default, or only the named ones. Scenarios run one at a time; a failure
ends only its own scenario. Results are stored for drill-down via smoke_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "smoke_inspect",
		Description: `Drill into one scenario of a smoke_run result.

Use the run_id from smoke_run and a scenario name. Returns the failing command, its exit code,
captured stdout and stderr, and the expected versus actual output of a failed check.`,
	}, h.inspectHandler)

	return s, nil
}

// updateFromRoots queries the client for MCP roots and, if one is a local
// directory, reloads the configuration and build directory from it.
// Called during session initialisation, before any tool call.
func (h *handler) updateFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}
	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		return
	}
	resolver, err := locate.New(loaded.Config.BuildDir)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.configure(loaded.Config); err != nil {
		return
	}
	h.runner.Locator = resolver
}

// configure installs the catalogue, default subset and runner settings of
// cfg. Nothing changes when cfg is invalid. Callers hold h.mu or own h.
func (h *handler) configure(cfg *config.Config) error {
	catalogue, err := scenario.Catalogue(cfg)
	if err != nil {
		return err
	}
	h.catalogue = catalogue
	h.defaults = cfg.Scenarios

	h.runner.Timeout = cfg.Timeout()
	h.runner.RetryDelay = cfg.RetryDelay()
	if p, ok := h.runner.Probes.(*probe.Runner); ok {
		p.Timeout = cfg.Timeout()
		p.MaxOutput = cfg.MaxOutputBytes()
	}
	if l, ok := h.runner.Subjects.(*subject.Launcher); ok {
		l.Grace = cfg.Grace()
	}
	return nil
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
