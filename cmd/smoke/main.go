// Command smoke runs end-to-end smoke scenarios against a user-space
// network stack and its probe tools.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/deixis/smoke"
	"github.com/deixis/smoke/internal/config"
	"github.com/deixis/smoke/internal/locate"
	smokemcp "github.com/deixis/smoke/internal/mcp"
	"github.com/deixis/smoke/internal/metrics"
	"github.com/deixis/smoke/internal/probe"
	"github.com/deixis/smoke/internal/report"
	"github.com/deixis/smoke/internal/scenario"
	"github.com/deixis/smoke/internal/subject"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("smoke: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runMain(args)
	case "list":
		err = listMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(smoke.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "smoke: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	switch {
	case errors.Is(err, errFailed):
		os.Exit(1)
	case err != nil:
		log.Fatal(err)
	}
}

// errFailed is returned by a command whose scenarios ran but did not all
// pass. The results have already been printed.
var errFailed = errors.New("scenarios failed")

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: smoke <command> [flags] [scenarios]

Commands:
  run         Run smoke scenarios (all, or the named ones)
  list        List the scenarios
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

The build directory is read from build_dir in .smoke, then $MESON_BUILD_ROOT,
then the current directory.

Use "smoke <command> -h" for command-specific flags.`)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output results as JSON")
	verboseFlag := fs.Bool("v", false, "verbose output")
	timeoutFlag := fs.Duration("timeout", 0, "override configured per-probe timeout (e.g. 5s)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on address while running (e.g. :9100)")
	outDir := fs.String("out", "", "also write the JSON report to this directory")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(*verboseFlag)

	var collector *metrics.Collector
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector = metrics.New(reg)
		stopMetrics := serveMetrics(reg, *metricsAddr, logger)
		defer stopMetrics()
	}

	h, err := newHarness(*timeoutFlag, logger, collector)
	if err != nil {
		return err
	}

	names := fs.Args()
	if len(names) == 0 {
		names = h.cfg.Scenarios
	}
	selected, err := scenario.Select(h.catalogue, names)
	if err != nil {
		return err
	}

	rep := h.runner.RunAll(ctx, selected)
	result := rep.RunResult()

	if *outDir != "" {
		if err := report.NewDiskStore(*outDir).Save(result); err != nil {
			return err
		}
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResults(os.Stdout, result, *verboseFlag)
	}

	if !rep.Passed() {
		return errFailed
	}
	return nil
}

// serveMetrics exposes reg over HTTP until the returned func is called.
func serveMetrics(reg *prometheus.Registry, addr string, logger logrus.FieldLogger) func() {
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	return func() { _ = srv.Close() }
}

// --- list ---

func listMain(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	_ = fs.Parse(args)

	h, err := newHarness(0, newLogger(false), nil)
	if err != nil {
		return err
	}
	printCatalogue(os.Stdout, h.catalogue)
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	storeDir := fs.String("store", "", "directory for run reports (default: a temp directory)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(smokemcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// stdout carries the MCP stream; keep logs on stderr.
	h, err := newHarness(0, newLogger(false), nil)
	if err != nil {
		return err
	}
	store := report.NewLRUStore(5, report.NewDiskStore(*storeDir))
	server, err := smokemcp.NewServer(h.cfg, h.runner, store)
	if err != nil {
		return err
	}

	if *httpAddr != "" {
		return serveHTTP(ctx, server, *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

type harness struct {
	cfg       *config.Config
	catalogue []scenario.Scenario
	runner    *scenario.Runner
}

func newHarness(timeoutOverride time.Duration, logger logrus.FieldLogger, collector *metrics.Collector) (*harness, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	timeout := cfg.Timeout()
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	}

	resolver, err := locate.New(cfg.BuildDir)
	if err != nil {
		return nil, err
	}
	catalogue, err := scenario.Catalogue(cfg)
	if err != nil {
		return nil, fmt.Errorf("building scenarios: %w", err)
	}

	probes := &probe.Runner{
		Timeout:   timeout,
		MaxOutput: cfg.MaxOutputBytes(),
		Log:       logger,
	}
	r := &scenario.Runner{
		Probes:     probes,
		Subjects:   &subject.Launcher{Grace: cfg.Grace(), Log: logger},
		Locator:    resolver,
		Timeout:    timeout,
		RetryDelay: cfg.RetryDelay(),
		Log:        logger,
	}
	// A nil *Collector must not end up in the interfaces.
	if collector != nil {
		probes.Observer = collector
		r.Recorder = collector
	}

	logger.WithFields(logrus.Fields{
		"build_dir": resolver.Dir,
		"config":    loaded.Path,
	}).Debug("harness ready")

	return &harness{cfg: cfg, catalogue: catalogue, runner: r}, nil
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
