// Package engine evaluates building-code requirements against drawing
// measurements and produces one Verdict per requirement.
//
// Evaluation of a requirement is a four-step state machine:
//
//  1. applicability against the drawing context (NOT_APPLICABLE on any
//     contradicted or missing condition);
//  2. subject matching (INCONCLUSIVE when nothing matches);
//  3. unit normalization (INCONCLUSIVE on unit errors, never FAIL);
//  4. comparison with tolerance (PASS or FAIL, or INCONCLUSIVE when
//     top-tied candidates disagree).
//
// The engine never mutates its inputs and keeps no state between
// evaluations, so one Engine can evaluate many drawings concurrently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/codecomply/matcher"
	"github.com/c360studio/codecomply/measurement"
	"github.com/c360studio/codecomply/requirement"
	"github.com/c360studio/codecomply/units"
)

// Engine evaluates requirements.
type Engine struct {
	matcher          *matcher.Matcher
	workers          int
	defaultTolerance *units.Tolerance
	logger           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many requirements Run evaluates in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDefaultTolerance sets the tolerance used by requirements that declare
// none.
func WithDefaultTolerance(t units.Tolerance) Option {
	return func(e *Engine) {
		if t.Value > 0 {
			e.defaultTolerance = &t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine that matches subjects with m.
func New(m *matcher.Matcher, opts ...Option) *Engine {
	e := &Engine{
		matcher: m,
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run evaluates every requirement against the drawing and returns the
// verdicts sorted by clause id. Cancelling ctx stops scheduling further
// evaluations; the partial output is discarded and ctx.Err() returned.
func (e *Engine) Run(
	ctx context.Context,
	reqs []*requirement.Requirement,
	measurements []*measurement.Measurement,
	dc measurement.DrawingContext,
) ([]Verdict, error) {
	verdicts := make([]Verdict, len(reqs))

	if e.workers <= 1 {
		for i, req := range reqs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			verdicts[i] = e.Evaluate(req, measurements, dc)
		}
	} else {
		sem := make(chan struct{}, e.workers)
		var wg sync.WaitGroup
	schedule:
		for i, req := range reqs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break schedule
			}
			wg.Add(1)
			go func(i int, req *requirement.Requirement) {
				defer wg.Done()
				defer func() { <-sem }()
				verdicts[i] = e.Evaluate(req, measurements, dc)
			}(i, req)
		}
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	SortVerdicts(verdicts)
	return verdicts, nil
}

// SortVerdicts orders verdicts by clause id.
func SortVerdicts(vs []Verdict) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].ClauseID < vs[j].ClauseID })
}

// Evaluate produces the verdict for a single requirement.
func (e *Engine) Evaluate(
	req *requirement.Requirement,
	measurements []*measurement.Measurement,
	dc measurement.DrawingContext,
) Verdict {
	v := e.evaluate(req, measurements, dc)
	e.logger.Debug("Requirement evaluated",
		"clause_id", v.ClauseID,
		"subject", v.Subject,
		"status", v.Status,
		"matched", len(v.Matched))
	return v
}

func (e *Engine) evaluate(
	req *requirement.Requirement,
	measurements []*measurement.Measurement,
	dc measurement.DrawingContext,
) Verdict {
	v := Verdict{
		ClauseID: req.ClauseID(),
		Subject:  req.Subject(),
		Operator: req.Operator(),
		Matched:  []MeasurementRef{},
	}

	if reason, ok := checkApplicability(req, dc); !ok {
		v.Status = StatusNotApplicable
		v.Detail = reason
		return v
	}

	candidates := matcher.Top(e.matcher.Match(req, measurements))
	if len(candidates) == 0 {
		v.Status = StatusInconclusive
		v.Detail = fmt.Sprintf("no measurement matches subject %q", req.Subject())
		return v
	}
	for _, c := range candidates {
		v.Matched = append(v.Matched, refOf(c))
	}

	switch op := req.Operator(); {
	case op == requirement.OpPresence:
		v.Status = StatusPass
		v.Detail = fmt.Sprintf("%d measurement(s) present for %q: %s", len(candidates), req.Subject(), joinIDs(candidates))
	case op.IsCount():
		e.evaluateCount(req, candidates, &v)
	default:
		e.evaluateValues(req, candidates, &v)
	}
	return v
}

// checkApplicability requires every declared condition to be explicitly
// satisfied by the drawing context.
func checkApplicability(req *requirement.Requirement, dc measurement.DrawingContext) (string, bool) {
	for _, cond := range req.Applicability() {
		val, ok := dc.Get(cond.Key)
		if !ok {
			return fmt.Sprintf("applicability condition %s cannot be confirmed: drawing context has no %q", cond, cond.Key), false
		}
		if !cond.Satisfied(val) {
			return fmt.Sprintf("applicability condition %s not met: drawing has %s = %s", cond, cond.Key, val), false
		}
	}
	return "", true
}

func refOf(c matcher.Candidate) MeasurementRef {
	m := c.Measurement
	return MeasurementRef{
		ID:      m.ID(),
		Subject: m.Subject(),
		Layer:   m.Layer(),
		Entity:  m.Entity().String(),
		Value:   m.Value(),
		Score:   c.Score,
		Reason:  c.Reason,
	}
}

func joinIDs(cs []matcher.Candidate) string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.Measurement.ID()
	}
	return strings.Join(ids, ", ")
}

// canonicalThresholds normalizes every threshold and checks they share a
// family.
func canonicalThresholds(req *requirement.Requirement) ([]float64, units.Family, error) {
	ths := req.Thresholds()
	out := make([]float64, len(ths))
	var family units.Family
	for i, t := range ths {
		c, err := t.Canonical()
		if err != nil {
			return nil, "", fmt.Errorf("threshold %s: %w", t, err)
		}
		f, _ := units.FamilyOf(t.Unit)
		if i > 0 && f != family {
			return nil, "", &units.FamilyMismatchError{Left: ths[0].Unit, Right: t.Unit}
		}
		family = f
		out[i] = c.Value
	}
	return out, family, nil
}

// tolerance returns the requirement's own tolerance, or the default when it
// fits family. An absolute default in another family gives no slack.
func (e *Engine) tolerance(req *requirement.Requirement, family units.Family) (units.Tolerance, bool) {
	if t, ok := req.Tolerance(); ok {
		return t, true
	}
	d := e.defaultTolerance
	if d == nil {
		return units.Tolerance{}, false
	}
	if d.Kind == units.TolerancePercent || d.Unit == "" {
		return *d, true
	}
	if f, err := units.FamilyOf(d.Unit); err == nil && f == family {
		return *d, true
	}
	return units.Tolerance{}, false
}

// canonicalTolerances returns the tolerance for each canonical threshold.
func (e *Engine) canonicalTolerances(req *requirement.Requirement, thresholds []float64, family units.Family) ([]float64, error) {
	out := make([]float64, len(thresholds))
	tol, ok := e.tolerance(req, family)
	if !ok {
		return out, nil
	}
	for i, t := range thresholds {
		c, err := tol.Canonical(t, family)
		if err != nil {
			return nil, fmt.Errorf("tolerance %s: %w", tol, err)
		}
		out[i] = c
	}
	return out, nil
}

func (e *Engine) evaluateCount(req *requirement.Requirement, candidates []matcher.Candidate, v *Verdict) {
	thresholds, family, err := canonicalThresholds(req)
	if err == nil && family != units.FamilyCount {
		err = &units.FamilyMismatchError{Left: req.Thresholds()[0].Unit, Right: units.Count}
	}
	if err != nil {
		v.Status = StatusInconclusive
		v.Detail = "cannot normalize count threshold: " + err.Error()
		return
	}
	tols, err := e.canonicalTolerances(req, thresholds, family)
	if err != nil {
		v.Status = StatusInconclusive
		v.Detail = "cannot normalize tolerance: " + err.Error()
		return
	}

	n := float64(len(candidates))
	c := compare(req.Operator(), n, thresholds, tols, units.Count)
	v.Comparisons = []Comparison{c}
	v.Status = statusOf(c.Passed)
	v.Detail = fmt.Sprintf("matched %s: %s", joinIDs(candidates), c.Expression)
}

func (e *Engine) evaluateValues(req *requirement.Requirement, candidates []matcher.Candidate, v *Verdict) {
	thresholds, family, err := canonicalThresholds(req)
	if err != nil {
		v.Status = StatusInconclusive
		v.Detail = "cannot normalize threshold: " + err.Error()
		return
	}
	tols, err := e.canonicalTolerances(req, thresholds, family)
	if err != nil {
		v.Status = StatusInconclusive
		v.Detail = "cannot normalize tolerance: " + err.Error()
		return
	}
	canonicalUnit := units.CanonicalUnit(family)

	var passed, failed, errored int
	for _, cand := range candidates {
		c := e.compareMeasurement(req, cand.Measurement, thresholds, tols, family, canonicalUnit)
		switch {
		case c.Error != "":
			errored++
		case c.Passed:
			passed++
		default:
			failed++
		}
		v.Comparisons = append(v.Comparisons, c)
	}

	lines := make([]string, len(v.Comparisons))
	for i, c := range v.Comparisons {
		lines[i] = describe(c)
	}

	switch {
	case len(candidates) == 1 && errored == 1:
		v.Status = StatusInconclusive
		v.Detail = "cannot normalize measurement: " + lines[0]
	case len(candidates) == 1:
		v.Status = statusOf(passed == 1)
		v.Detail = lines[0]
	case errored > 0 || (passed > 0 && failed > 0):
		v.Status = StatusInconclusive
		v.Detail = fmt.Sprintf("ambiguous match: %d candidates tied at score %d with conflicting results: %s",
			len(candidates), candidates[0].Score, strings.Join(lines, "; "))
	default:
		v.Status = statusOf(failed == 0)
		v.Detail = fmt.Sprintf("%d candidates tied at score %d agree: %s",
			len(candidates), candidates[0].Score, strings.Join(lines, "; "))
	}
}

func (e *Engine) compareMeasurement(
	req *requirement.Requirement,
	m *measurement.Measurement,
	thresholds, tols []float64,
	family units.Family,
	canonicalUnit units.Unit,
) Comparison {
	q := m.Value()
	c, err := q.Canonical()
	if err == nil {
		if f, _ := units.FamilyOf(q.Unit); f != family {
			err = &units.FamilyMismatchError{Left: q.Unit, Right: canonicalUnit}
		}
	}
	if err != nil {
		return Comparison{
			MeasurementID: m.ID(),
			Thresholds:    thresholds,
			Unit:          canonicalUnit,
			Error:         err.Error(),
		}
	}
	cmp := compare(req.Operator(), c.Value, thresholds, tols, canonicalUnit)
	cmp.MeasurementID = m.ID()
	return cmp
}

func describe(c Comparison) string {
	if c.Error != "" {
		return fmt.Sprintf("[%s] %s", c.MeasurementID, c.Error)
	}
	result := "fail"
	if c.Passed {
		result = "pass"
	}
	if c.MeasurementID == "" {
		return c.Expression + ": " + result
	}
	return fmt.Sprintf("[%s] %s: %s", c.MeasurementID, c.Expression, result)
}

func statusOf(passed bool) Status {
	if passed {
		return StatusPass
	}
	return StatusFail
}
