// Package pipeline runs a complete validation: load documents, evaluate,
// aggregate, record metrics and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/codecomply/config"
	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/export"
	"github.com/c360studio/codecomply/ingest"
	"github.com/c360studio/codecomply/matcher"
	"github.com/c360studio/codecomply/metrics"
	"github.com/c360studio/codecomply/publish"
	"github.com/c360studio/codecomply/report"
	"github.com/c360studio/codecomply/storage"
)

// Result is the outcome of validating one drawing.
type Result struct {
	RunID        string              `json:"run_id"`
	Drawing      string              `json:"drawing"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Requirements []ingest.SourceFile `json:"requirements"`
	DrawingFile  ingest.SourceFile   `json:"drawing_file"`
	// Rejected lists malformed input records, requirements first.
	Rejected []string `json:"rejected,omitempty"`
	// Changes compares the report with the previous one for the same
	// drawing. It is empty when no history is kept.
	Changes []report.Change `json:"changes,omitempty"`
	Report  *report.Report  `json:"report"`
}

// Document returns the export envelope for the result.
func (r *Result) Document() export.Document {
	return export.Document{
		Drawing:     r.Drawing,
		RunID:       r.RunID,
		GeneratedAt: r.FinishedAt,
		Inputs:      append(append([]ingest.SourceFile(nil), r.Requirements...), r.DrawingFile),
		Changes:     r.Changes,
		Report:      r.Report,
	}
}

// History stores the latest report per drawing.
type History interface {
	Latest(ctx context.Context, drawing string) (*export.Document, error)
	Save(ctx context.Context, doc export.Document) error
}

// Runner wires the validation stages together. It is safe for concurrent
// use when its publisher is.
type Runner struct {
	engine    *engine.Engine
	loader    *ingest.Loader
	recorder  *metrics.Recorder
	publisher publish.Publisher
	history   History
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder records metrics for every run.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithPublisher publishes every report.
func WithPublisher(p publish.Publisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithHistory compares every report with the previous one for its drawing
// and saves it.
func WithHistory(h History) Option {
	return func(r *Runner) { r.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New builds a Runner from configuration.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		publisher: publish.NopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	engineOpts := []engine.Option{
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithLogger(r.logger),
	}
	if cfg.Engine.DefaultTolerance != nil {
		engineOpts = append(engineOpts, engine.WithDefaultTolerance(*cfg.Engine.DefaultTolerance))
	}
	r.engine = engine.New(matcher.New(cfg.Matcher), engineOpts...)
	r.loader = ingest.NewLoader(nil, r.logger)
	return r
}

// Run validates one drawing against the requirements documents.
func (r *Runner) Run(ctx context.Context, reqPaths []string, drawingPath string) (*Result, error) {
	results, err := r.RunAll(ctx, reqPaths, []string{drawingPath})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// RunAll loads the requirements once and validates each drawing in turn,
// producing one result per drawing.
func (r *Runner) RunAll(ctx context.Context, reqPaths, drawingPaths []string) ([]*Result, error) {
	if len(reqPaths) == 0 {
		return nil, fmt.Errorf("no requirements documents given")
	}
	if len(drawingPaths) == 0 {
		return nil, fmt.Errorf("no drawing documents given")
	}

	reqs, err := r.loader.LoadRequirements(reqPaths)
	if err != nil {
		return nil, fmt.Errorf("load requirements: %w", err)
	}
	for _, e := range reqs.Rejected {
		r.logger.Warn("Rejected requirement record", slog.String("error", e.Error()))
	}
	if r.recorder != nil {
		r.recorder.ObserveRejected(metrics.KindRequirement, len(reqs.Rejected))
	}
	r.logger.Info("Loaded requirements",
		slog.Int("requirements", reqs.Collection.Len()),
		slog.Int("rejected", len(reqs.Rejected)),
		slog.Int("files", len(reqs.Files)))

	results := make([]*Result, 0, len(drawingPaths))
	for _, path := range drawingPaths {
		res, err := r.runDrawing(ctx, reqs, path)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runDrawing(ctx context.Context, reqs *ingest.Requirements, path string) (*Result, error) {
	runID := uuid.New().String()
	started := r.now()
	logger := r.logger.With(slog.String("run_id", runID))

	drawing, err := r.loader.LoadDrawing(path)
	if err != nil {
		return nil, fmt.Errorf("load drawing: %w", err)
	}
	for _, e := range drawing.Rejected {
		logger.Warn("Rejected measurement record",
			slog.String("drawing", drawing.Name),
			slog.String("error", e.Error()))
	}

	evalStart := time.Now()
	verdicts, err := r.engine.Run(ctx, reqs.Collection.All(), drawing.Measurements.All(), drawing.Context)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", drawing.Name, err)
	}
	elapsed := time.Since(evalStart)

	res := &Result{
		RunID:        runID,
		Drawing:      drawing.Name,
		StartedAt:    started,
		FinishedAt:   r.now(),
		Requirements: reqs.Files,
		DrawingFile:  drawing.File,
		Report:       report.Aggregate(verdicts),
	}
	for _, e := range reqs.Rejected {
		res.Rejected = append(res.Rejected, e.Error())
	}
	for _, e := range drawing.Rejected {
		res.Rejected = append(res.Rejected, e.Error())
	}

	if r.history != nil {
		r.compare(ctx, logger, res)
	}

	if r.recorder != nil {
		r.recorder.ObserveRejected(metrics.KindMeasurement, len(drawing.Rejected))
		r.recorder.ObserveReport(res.Report, elapsed)
	}

	if err := r.publisher.Publish(ctx, res.Document()); err != nil {
		logger.Error("Failed to publish report",
			slog.String("drawing", drawing.Name),
			slog.String("error", err.Error()))
	}

	s := res.Report.Summary
	logger.Info("Drawing validated",
		slog.String("drawing", drawing.Name),
		slog.String("overall", string(s.Overall)),
		slog.Int("pass", s.Pass),
		slog.Int("fail", s.Fail),
		slog.Int("inconclusive", s.Inconclusive),
		slog.Int("not_applicable", s.NotApplicable),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

// compare fills res.Changes from the stored report and stores the new one.
// History failures are logged; they never fail the run.
func (r *Runner) compare(ctx context.Context, logger *slog.Logger, res *Result) {
	prev, err := r.history.Latest(ctx, res.Drawing)
	switch {
	case err == nil:
		res.Changes = report.Diff(prev.Report, res.Report)
		for _, c := range res.Changes {
			level := slog.LevelInfo
			if c.Regression() {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "Verdict changed",
				slog.String("drawing", res.Drawing),
				slog.String("clause", c.ClauseID),
				slog.String("from", string(c.From)),
				slog.String("to", string(c.To)),
				slog.String("previous_run_id", prev.RunID))
		}
	case errors.Is(err, storage.ErrNotFound):
		logger.Debug("No previous report", slog.String("drawing", res.Drawing))
	default:
		logger.Warn("Failed to load previous report",
			slog.String("drawing", res.Drawing),
			slog.String("error", err.Error()))
	}

	if err := r.history.Save(ctx, res.Document()); err != nil {
		logger.Error("Failed to store report",
			slog.String("drawing", res.Drawing),
			slog.String("error", err.Error()))
	}
}
