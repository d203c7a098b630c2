package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/codecomply/config"
	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/export"
	"github.com/c360studio/codecomply/ingest"
	"github.com/c360studio/codecomply/metrics"
	"github.com/c360studio/codecomply/pipeline"
	"github.com/c360studio/codecomply/publish"
	"github.com/c360studio/codecomply/storage"
	"github.com/c360studio/codecomply/watch"
)

// exitCodeFail is returned by check --fail-on-fail when any drawing fails.
const exitCodeFail = 3

type checkOptions struct {
	requirements []string
	drawings     []string
	format       string
	outputDir    string
	workers      int
	watch        bool
	failOnFail   bool
	natsURL      string
	metrics      bool
}

func checkCmd(global *globalOptions) *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate drawings against requirements",
		Long: `Check evaluates every requirement against the measurements of each
drawing and writes one compliance report per drawing.

Inputs may be file paths or glob patterns (** is supported). When no
inputs are given on the command line, the inputs section of the
configuration is used.`,
		Example: `  codecomply check -r codes/ibc.yaml -d plans/level-1.json
  codecomply check -r 'codes/**/*.yaml' -d 'plans/*.json' --format markdown --output-dir reports
  codecomply check --watch --fail-on-fail`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, global, &opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.requirements, "requirements", "r", nil, "Requirements documents or glob patterns")
	f.StringSliceVarP(&opts.drawings, "drawing", "d", nil, "Drawing documents or glob patterns")
	f.StringVarP(&opts.format, "format", "f", "", "Report format (json, yaml, text, markdown)")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "Write reports to this directory instead of stdout")
	f.IntVarP(&opts.workers, "workers", "w", 0, "Requirements evaluated in parallel")
	f.BoolVar(&opts.watch, "watch", false, "Re-run whenever an input document changes")
	f.BoolVar(&opts.failOnFail, "fail-on-fail", false, "Exit with status 3 when any drawing fails")
	f.StringVar(&opts.natsURL, "nats-url", "", "Publish reports to this NATS server")
	f.BoolVar(&opts.metrics, "metrics", false, "Serve Prometheus metrics")
	return cmd
}

// applyFlags overrides configuration with the flags that were set.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *checkOptions) {
	f := cmd.Flags()
	if f.Changed("format") {
		cfg.Output.Format = opts.format
	}
	if f.Changed("output-dir") {
		cfg.Output.Dir = opts.outputDir
	}
	if f.Changed("workers") {
		cfg.Engine.Workers = opts.workers
	}
	if f.Changed("watch") {
		cfg.Watch.Enabled = opts.watch
	}
	if f.Changed("nats-url") {
		cfg.NATS.URL = opts.natsURL
	}
	if f.Changed("metrics") {
		cfg.Metrics.Enabled = opts.metrics
	}
	if len(opts.requirements) > 0 {
		cfg.Inputs.Requirements = opts.requirements
	}
	if len(opts.drawings) > 0 {
		cfg.Inputs.Drawings = opts.drawings
	}
}

func runCheck(cmd *cobra.Command, global *globalOptions, opts *checkOptions) error {
	logger := newLogger(global.logLevel, cmd.ErrOrStderr())

	cfg, err := config.NewLoader(logger).Load(global.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if len(cfg.Inputs.Requirements) == 0 {
		return fmt.Errorf("no requirements documents: use --requirements or inputs.requirements")
	}
	if len(cfg.Inputs.Drawings) == 0 {
		return fmt.Errorf("no drawing documents: use --drawing or inputs.drawings")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runnerOpts := []pipeline.Option{pipeline.WithLogger(logger)}

	if cfg.Metrics.Enabled {
		rec := metrics.NewRecorder()
		runnerOpts = append(runnerOpts, pipeline.WithRecorder(rec))
		go func() {
			if err := rec.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("Metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.NATS.URL != "" {
		pub, err := publish.Connect(publish.Options{
			URL:       cfg.NATS.URL,
			Subject:   cfg.NATS.Subject,
			JetStream: cfg.NATS.JetStream,
			Timeout:   cfg.NATS.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		runnerOpts = append(runnerOpts, pipeline.WithPublisher(pub))
	}

	if cfg.NATS.URL != "" && cfg.NATS.HistoryBucket != "" {
		store, err := storage.Connect(ctx, storage.Options{
			URL:     cfg.NATS.URL,
			Bucket:  cfg.NATS.HistoryBucket,
			Timeout: cfg.NATS.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		runnerOpts = append(runnerOpts, pipeline.WithHistory(store))
	}

	runner := pipeline.New(cfg, runnerOpts...)
	c := &checker{
		cfg:    cfg,
		runner: runner,
		format: format,
		out:    cmd.OutOrStdout(),
		logger: logger,
	}

	if !cfg.Watch.Enabled {
		failed, err := c.once(ctx)
		if err != nil {
			return err
		}
		if failed && opts.failOnFail {
			return &exitError{code: exitCodeFail, msg: "compliance check failed"}
		}
		return nil
	}
	return c.watch(ctx)
}

// checker runs the pipeline over the configured inputs and writes reports.
type checker struct {
	cfg    *config.Config
	runner *pipeline.Runner
	format export.Format
	out    io.Writer
	logger *slog.Logger
}

// resolve expands the input patterns. It runs before every pass so that
// newly created files matching a pattern are picked up in watch mode.
func (c *checker) resolve() (reqs, drawings []string, err error) {
	reqs, err = ingest.ResolveFiles(c.cfg.Inputs.Requirements)
	if err != nil {
		return nil, nil, fmt.Errorf("requirements: %w", err)
	}
	drawings, err = ingest.ResolveFiles(c.cfg.Inputs.Drawings)
	if err != nil {
		return nil, nil, fmt.Errorf("drawings: %w", err)
	}
	return reqs, drawings, nil
}

// once runs a single pass and reports whether any drawing failed.
func (c *checker) once(ctx context.Context) (bool, error) {
	reqs, drawings, err := c.resolve()
	if err != nil {
		return false, err
	}
	results, err := c.runner.RunAll(ctx, reqs, drawings)
	if err != nil {
		return false, err
	}

	failed := false
	for _, res := range results {
		if err := c.write(res, len(results)); err != nil {
			return false, err
		}
		if res.Report.Summary.Overall == engine.StatusFail {
			failed = true
		}
	}
	return failed, nil
}

func (c *checker) write(res *pipeline.Result, total int) error {
	doc := res.Document()
	if c.cfg.Output.Dir == "" {
		if err := export.Write(c.out, doc, c.format); err != nil {
			return err
		}
		if total > 1 && c.format != export.FormatJSON && c.format != export.FormatYAML {
			fmt.Fprintln(c.out)
		}
		return nil
	}

	// A fixed file name would make every drawing overwrite the last.
	filename := c.cfg.Output.Filename
	if total > 1 {
		filename = ""
	}
	path, err := export.WriteFile(c.cfg.Output.Dir, filename, doc, c.format)
	if err != nil {
		return err
	}
	c.logger.Info("Report written",
		slog.String("drawing", res.Drawing),
		slog.String("path", path))
	return nil
}

// watch runs a pass, then another after every batch of input changes, until
// ctx is cancelled. Errors in a pass are logged and the watch continues.
func (c *checker) watch(ctx context.Context) error {
	reqs, drawings, err := c.resolve()
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Config{
		DebounceDelay: c.cfg.Watch.DebounceDelay,
		Extensions:    c.cfg.Watch.Extensions,
	}, append(reqs, drawings...), c.logger)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()
	w.Start(ctx)

	if _, err := c.once(ctx); err != nil {
		c.logger.Error("Check failed", slog.String("error", err.Error()))
	}
	for batch := range w.Batches() {
		for _, ev := range batch {
			c.logger.Info("Input changed",
				slog.String("path", ev.Path),
				slog.String("operation", string(ev.Operation)))
		}
		if _, err := c.once(ctx); err != nil {
			c.logger.Error("Check failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
