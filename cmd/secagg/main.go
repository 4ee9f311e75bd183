/*
Package main is the entry point for the secagg command-line application.

secagg is a client for a security metadata aggregation service. It collects domain
names from arguments, files, standard input or a watched drop directory, submits the
normalized list to the backend in a single request and renders or exports the
per-domain results (detected security vendors, VirusTotal verdicts, DMARC, SPF and
blacklist summaries).

Subcommands:
  - `aggregate`: one-shot submission, results on stdout, optional CSV export.
  - `tui`: interactive terminal UI with a drop directory.
  - `normalize`: print the normalized domain list without contacting the backend.
  - `health`: check that the backend is reachable.
  - `env-example`: print an example configuration file.

Configuration is read from ~/.secagg/config.toml; persistent flags override it.
*/
package main

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/x-stp/secagg/internal/aggregator"
	"github.com/x-stp/secagg/internal/client"
	"github.com/x-stp/secagg/internal/config"
	"github.com/x-stp/secagg/internal/core"
	"github.com/x-stp/secagg/internal/domains"
	"github.com/x-stp/secagg/internal/dropzone"
	"github.com/x-stp/secagg/internal/metrics"
	"github.com/x-stp/secagg/internal/render"
	"github.com/x-stp/secagg/internal/tui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags (persistent across commands)
var (
	configPath  string
	endpoint    string
	verbose     bool
	metricsPort int
)

// Flags of the aggregate, normalize and tui commands
var (
	domainFiles []string
	fromStdin   bool
	csvPath     string
	compress    bool
	uploadFile  string
	noColor     bool
	dropDir     string
	exportPath  string
)

// cfg is the effective configuration after flag overrides.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "secagg",
	Short:         "secagg - aggregate security metadata (vendors, VirusTotal, DMARC/SPF, blacklists) for domains",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate [domain...]",
	Short: "Submit domains to the aggregation backend and print the results",
	Long: `Collects domains from the arguments, every -f file and (with --stdin) standard input,
normalizes them (split on commas and newlines, trimmed, duplicates removed in first-seen order)
and submits the whole list in one request. With --upload the file is sent as-is and split by the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		if uploadFile != "" {
			return runUpload(ctx, uploadFile)
		}
		return runAggregate(ctx, args)
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive terminal UI with a drop directory for domain files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runTUI(ctx, cmd)
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize [domain...]",
	Short: "Print the normalized domain list without contacting the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := collectInput(args)
		if err != nil {
			return err
		}
		list := domains.Normalize(raw)
		log.Printf("Normalized %d domain(s), fingerprint %s", len(list), domains.Fingerprint(list))
		for _, d := range list {
			fmt.Println(d)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the aggregation backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		agg := aggregator.NewClient(cfg.Endpoint, nil)
		if err := agg.Health(ctx); err != nil {
			return fmt.Errorf("backend %s unhealthy: %w", agg.BaseURL(), err)
		}
		fmt.Printf("ok %s\n", agg.BaseURL())
		return nil
	},
}

var envExampleCmd = &cobra.Command{
	Use:   "env-example",
	Short: "Print an example configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(config.Example())
		return nil
	},
}

func init() {
	// Persistent flags (available for all commands)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.secagg/config.toml)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", config.DefaultEndpoint, "Base URL of the aggregation backend")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "Serve Prometheus metrics on this port (0 disables)")

	// Flags for the aggregate command
	aggregateCmd.Flags().StringArrayVarP(&domainFiles, "file", "f", nil, "File with domains, one per line or comma separated (repeatable)")
	aggregateCmd.Flags().BoolVar(&fromStdin, "stdin", false, "Also read domains from standard input")
	aggregateCmd.Flags().StringVar(&csvPath, "csv", "", "Export the results as CSV to this path")
	aggregateCmd.Flags().BoolVar(&compress, "compress", false, "Gzip the CSV export (.gz is appended)")
	aggregateCmd.Flags().StringVar(&uploadFile, "upload", "", "Upload this file and let the backend parse it")
	aggregateCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable styled output")

	// Flags for the normalize command
	normalizeCmd.Flags().StringArrayVarP(&domainFiles, "file", "f", nil, "File with domains (repeatable)")
	normalizeCmd.Flags().BoolVar(&fromStdin, "stdin", false, "Also read domains from standard input")

	// Flags for the tui command
	tuiCmd.Flags().StringVar(&dropDir, "drop-dir", "", "Watch this directory and merge dropped files into the list")
	tuiCmd.Flags().StringVar(&exportPath, "export", "", "CSV export path (default from config)")
	tuiCmd.Flags().BoolVar(&compress, "compress", false, "Gzip the CSV export (.gz is appended)")

	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(envExampleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides and initializes
// logging, the shared HTTP client and metrics.
func setup(cmd *cobra.Command) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("metrics-port") {
		cfg.Metrics.Port = metricsPort
	}
	if flags.Changed("compress") {
		cfg.Export.Compress = compress
	}
	if flags.Changed("drop-dir") {
		cfg.DropZone.Dir = dropDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	aggregator.UserAgent = "secagg/" + version
	client.InitHTTPClient(cfg.HTTPClientConfig())

	if cfg.Metrics.Port > 0 {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(fmt.Sprintf(":%d", cfg.Metrics.Port)); err != nil {
			log.Printf("Failed to start metrics server: %v", err)
		}
	}
	return nil
}

func teardown() {
	if cfg == nil || cfg.Metrics.Port == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := metrics.ShutdownMetricsServer(ctx); err != nil {
		log.Printf("Error shutting down metrics server: %v", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Printf("Received signal %v, initiating shutdown...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// collectInput concatenates the arguments, every -f file and optionally
// stdin into one raw text block, in that order.
func collectInput(args []string) (string, error) {
	var parts []string
	parts = append(parts, args...)

	for _, path := range domainFiles {
		text, err := dropzone.ReadFile(path, cfg.DropZone.MaxFileBytes)
		if err != nil {
			return "", fmt.Errorf("reading domain file: %w", err)
		}
		parts = append(parts, text)
	}

	if fromStdin {
		b, err := io.ReadAll(io.LimitReader(os.Stdin, cfg.DropZone.MaxFileBytes+1))
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		if int64(len(b)) > cfg.DropZone.MaxFileBytes {
			return "", fmt.Errorf("stdin: %w (limit %d bytes)", dropzone.ErrFileTooLarge, cfg.DropZone.MaxFileBytes)
		}
		text, err := dropzone.Decode(b)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

func newRenderer() *render.Renderer {
	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		return render.NewRenderer(render.PlainStyles())
	}
	return render.NewRenderer(render.DefaultStyles())
}

func runAggregate(ctx context.Context, args []string) error {
	raw, err := collectInput(args)
	if err != nil {
		return err
	}
	return submit(ctx, aggregator.NewClient(cfg.Endpoint, nil), raw)
}

// runUpload sends the file unchanged to the backend. Its decoded text still
// goes through the orchestrator so empty files are rejected locally.
func runUpload(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading upload file: %w", err)
	}
	if int64(len(data)) > cfg.DropZone.MaxFileBytes {
		return fmt.Errorf("%s: %w (limit %d bytes)", path, dropzone.ErrFileTooLarge, cfg.DropZone.MaxFileBytes)
	}
	text, err := dropzone.Decode(data)
	if err != nil {
		return fmt.Errorf("reading upload file: %w", err)
	}

	up := aggregator.NewClient(cfg.Endpoint, nil).Upload(filepath.Base(path), data)
	log.Printf("Uploading %s (%d bytes)", up.Name(), len(data))
	return submit(ctx, up, text)
}

// submit runs one submission through an orchestrator, prints the results
// and writes the CSV export when --csv is set.
func submit(ctx context.Context, agg core.Aggregator, raw string) error {
	orch := core.NewOrchestrator(agg)
	orch.OnChange(func(s core.Snapshot) {
		// Failures are reported by main.
		if s.State == core.StateProcessing || s.State == core.StateDone {
			fmt.Fprintln(os.Stderr, s.Status)
		}
	})

	snap, err := orch.Submit(ctx, raw)
	if err != nil {
		if errors.Is(err, core.ErrNoDomains) {
			return errors.New(core.StatusNoDomains)
		}
		return err
	}

	if err := newRenderer().Render(os.Stdout, snap.Results); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	if csvPath == "" {
		return nil
	}

	final, n, err := orch.WriteExport(csvPath, cfg.Export.Compress)
	if errors.Is(err, core.ErrNothingToExport) {
		fmt.Fprintln(os.Stderr, "No results to export.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d result(s) to %s (%d bytes)\n", len(snap.Results), final, n)
	return nil
}

func runTUI(ctx context.Context, cmd *cobra.Command) error {
	opts := tui.RunOptions{
		Config: tui.Config{
			Orchestrator: core.NewOrchestrator(aggregator.NewClient(cfg.Endpoint, nil)),
			Renderer:     render.NewRenderer(render.DefaultStyles()),
			ExportPath:   cfg.Export.FileName,
			Compress:     cfg.Export.Compress,
		},
	}
	if cmd.Flags().Changed("export") {
		opts.ExportPath = exportPath
	}
	if cfg.Verbose {
		opts.LogFile = "secagg.log"
	}

	if cfg.DropZone.Dir != "" {
		w, err := dropzone.New(cfg.DropZone.Dir, dropzone.Options{MaxFileBytes: cfg.DropZone.MaxFileBytes})
		if err != nil {
			return err
		}
		defer w.Close()
		opts.Drops = w.Watch(ctx)
		opts.DropDir = w.Dir()
	}

	return tui.Run(ctx, opts)
}
