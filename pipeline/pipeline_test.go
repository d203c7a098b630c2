package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codecomply/config"
	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/export"
	"github.com/c360studio/codecomply/metrics"
	"github.com/c360studio/codecomply/report"
	"github.com/c360studio/codecomply/storage"
)

const requirementsYAML = `
source: Building Code
requirements:
  - clause_id: "3.3.1.9"
    subject: corridor width
    operator: MIN
    thresholds: [{value: 1100, unit: mm}]
  - clause_id: "3.4.3.2"
    subject: stair width
    operator: MIN
    thresholds: [{value: 900, unit: mm}]
  - clause_id: "3.2.5.12"
    subject: sprinkler presence
    operator: PRESENCE
  - clause_id: "3.3.1.1"
    subject: door width
    operator: MIN
    thresholds: [{value: 800, unit: mm}]
    applicability: {occupancy_class: A}
  - clause_id: "broken"
    subject: nothing
    operator: SOMETIMES
`

const drawingYAML = `
filename: ground-floor
units: mm
context: {occupancy_class: B}
measurements:
  - {subject: corridor width, value: 1200, layer: A-CORR, handle: "1A"}
  - {subject: stair width, value: 950, layer: S-STAIR, index: 0}
  - {subject: stair width, value: 850, layer: S-STAIR, index: 1}
  - {subject: door width, value: 900, layer: A-DOOR, index: 0}
  - {subject: hatch area, layer: X, index: 0}
`

type recordingPublisher struct {
	mu   sync.Mutex
	docs []export.Document
}

func (p *recordingPublisher) Publish(_ context.Context, doc export.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs = append(p.docs, doc)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type memoryHistory struct {
	mu   sync.Mutex
	docs map[string]export.Document
}

func (h *memoryHistory) Latest(_ context.Context, drawing string) (*export.Document, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[drawing]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &doc, nil
}

func (h *memoryHistory) Save(_ context.Context, doc export.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.docs[doc.Drawing] = doc
	return nil
}

func fixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	reqs := filepath.Join(dir, "code.yaml")
	drawing := filepath.Join(dir, "ground.yaml")
	require.NoError(t, os.WriteFile(reqs, []byte(requirementsYAML), 0644))
	require.NoError(t, os.WriteFile(drawing, []byte(drawingYAML), 0644))
	return reqs, drawing
}

func TestRunner_Run(t *testing.T) {
	reqs, drawing := fixtures(t)
	rec := metrics.NewRecorder()
	pub := &recordingPublisher{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	cfg := config.DefaultConfig()
	cfg.Engine.Workers = 4
	r := New(cfg,
		WithRecorder(rec),
		WithPublisher(pub),
		WithLogger(logger),
		WithClock(func() time.Time { return fixed }))

	res, err := r.Run(context.Background(), []string{reqs}, drawing)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "ground-floor", res.Drawing)
	assert.Equal(t, fixed, res.FinishedAt)
	require.Len(t, res.Requirements, 1)
	assert.Equal(t, reqs, res.Requirements[0].Path)

	byClause := map[string]engine.Status{}
	for _, v := range res.Report.Verdicts {
		byClause[v.ClauseID] = v.Status
	}
	assert.Equal(t, map[string]engine.Status{
		"3.2.5.12": engine.StatusInconclusive,
		"3.3.1.1":  engine.StatusNotApplicable,
		"3.3.1.9":  engine.StatusPass,
		"3.4.3.2":  engine.StatusInconclusive,
	}, byClause)
	assert.Equal(t, engine.StatusInconclusive, res.Report.Summary.Overall)

	// One unknown operator and one measurement without a value.
	assert.Len(t, res.Rejected, 2)
	assert.Contains(t, logs.String(), "Rejected requirement record")
	assert.Contains(t, logs.String(), "Rejected measurement record")

	require.Len(t, pub.docs, 1)
	assert.Equal(t, res.RunID, pub.docs[0].RunID)
	require.Len(t, pub.docs[0].Inputs, 2)
	assert.Equal(t, drawing, pub.docs[0].Inputs[1].Path)
	assert.NotEmpty(t, pub.docs[0].Inputs[1].CID)

	n, err := testutil.GatherAndCount(rec.Registry(), "codecomply_reports_total", "codecomply_rejected_records_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRunner_RunAll(t *testing.T) {
	reqs, drawing := fixtures(t)
	second := filepath.Join(filepath.Dir(drawing), "roof.json")
	require.NoError(t, os.WriteFile(second, []byte(`{
  "units": "mm",
  "measurements": [{"subject": "corridor width", "value": 1000, "layer": "R"}]
}`), 0644))

	r := New(config.DefaultConfig())
	results, err := r.RunAll(context.Background(), []string{reqs}, []string{drawing, second})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "roof", results[1].Drawing)
	assert.Equal(t, engine.StatusFail, results[1].Report.Summary.Overall)
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
}

func TestRunner_Errors(t *testing.T) {
	reqs, drawing := fixtures(t)
	r := New(config.DefaultConfig())

	_, err := r.RunAll(context.Background(), nil, []string{drawing})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), []string{reqs}, filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "load drawing")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, []string{reqs}, drawing)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Deterministic(t *testing.T) {
	reqs, drawing := fixtures(t)
	serial := New(config.DefaultConfig())
	cfg := config.DefaultConfig()
	cfg.Engine.Workers = 8
	parallel := New(cfg)

	a, err := serial.Run(context.Background(), []string{reqs}, drawing)
	require.NoError(t, err)
	b, err := parallel.Run(context.Background(), []string{reqs}, drawing)
	require.NoError(t, err)
	assert.Equal(t, a.Report.Verdicts, b.Report.Verdicts)
}

func TestRunner_History(t *testing.T) {
	reqs, drawing := fixtures(t)
	hist := &memoryHistory{docs: map[string]export.Document{}}
	r := New(config.DefaultConfig(), WithHistory(hist))

	first, err := r.Run(context.Background(), []string{reqs}, drawing)
	require.NoError(t, err)
	assert.Empty(t, first.Changes)
	require.Contains(t, hist.docs, "ground-floor")

	// Narrow the corridor below 1100 mm.
	content, err := os.ReadFile(drawing)
	require.NoError(t, err)
	narrowed := strings.Replace(string(content), "value: 1200", "value: 1000", 1)
	require.NoError(t, os.WriteFile(drawing, []byte(narrowed), 0644))

	second, err := r.Run(context.Background(), []string{reqs}, drawing)
	require.NoError(t, err)
	assert.Equal(t, []report.Change{
		{ClauseID: "3.3.1.9", From: engine.StatusPass, To: engine.StatusFail},
	}, second.Changes)
	assert.True(t, second.Changes[0].Regression())
	assert.Equal(t, second.Changes, second.Document().Changes)
	assert.Equal(t, second.RunID, hist.docs["ground-floor"].RunID)
}
