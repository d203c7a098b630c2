// Package report aggregates verdicts into counts by status, clause and
// drawing layer.
package report

import (
	"sort"

	"github.com/c360studio/codecomply/engine"
)

// NoLayer is the layer key for verdicts with no matched measurements.
const NoLayer = "(none)"

// StatusCounts counts verdicts per status.
type StatusCounts struct {
	Pass          int `json:"pass" yaml:"pass"`
	Fail          int `json:"fail" yaml:"fail"`
	Inconclusive  int `json:"inconclusive" yaml:"inconclusive"`
	NotApplicable int `json:"not_applicable" yaml:"not_applicable"`
}

// Add counts one verdict status.
func (c *StatusCounts) Add(s engine.Status) {
	switch s {
	case engine.StatusPass:
		c.Pass++
	case engine.StatusFail:
		c.Fail++
	case engine.StatusInconclusive:
		c.Inconclusive++
	case engine.StatusNotApplicable:
		c.NotApplicable++
	}
}

// Get returns the count for s.
func (c StatusCounts) Get(s engine.Status) int {
	switch s {
	case engine.StatusPass:
		return c.Pass
	case engine.StatusFail:
		return c.Fail
	case engine.StatusInconclusive:
		return c.Inconclusive
	case engine.StatusNotApplicable:
		return c.NotApplicable
	}
	return 0
}

// Total returns the number of verdicts counted.
func (c StatusCounts) Total() int {
	return c.Pass + c.Fail + c.Inconclusive + c.NotApplicable
}

// Overall reduces the counts to one status: FAIL if anything failed, else
// INCONCLUSIVE if anything was inconclusive, else PASS if anything passed,
// else NOT_APPLICABLE.
func (c StatusCounts) Overall() engine.Status {
	switch {
	case c.Fail > 0:
		return engine.StatusFail
	case c.Inconclusive > 0:
		return engine.StatusInconclusive
	case c.Pass > 0:
		return engine.StatusPass
	default:
		return engine.StatusNotApplicable
	}
}

// Summary is the headline of a report.
type Summary struct {
	Total         int           `json:"total" yaml:"total"`
	Pass          int           `json:"pass" yaml:"pass"`
	Fail          int           `json:"fail" yaml:"fail"`
	Inconclusive  int           `json:"inconclusive" yaml:"inconclusive"`
	NotApplicable int           `json:"not_applicable" yaml:"not_applicable"`
	Overall       engine.Status `json:"overall" yaml:"overall"`
}

// Report is the aggregate of a set of verdicts.
type Report struct {
	Summary  Summary                 `json:"summary" yaml:"summary"`
	ByStatus map[engine.Status]int   `json:"by_status" yaml:"by_status"`
	ByClause map[string]StatusCounts `json:"by_clause" yaml:"by_clause"`
	ByLayer  map[string]StatusCounts `json:"by_layer" yaml:"by_layer"`
	Verdicts []engine.Verdict        `json:"verdicts" yaml:"verdicts"`
}

// Aggregate builds a report from verdicts. It is pure; the verdicts are
// copied and sorted by clause id.
func Aggregate(verdicts []engine.Verdict) *Report {
	r := &Report{
		ByStatus: make(map[engine.Status]int, len(engine.Statuses)),
		ByClause: make(map[string]StatusCounts),
		ByLayer:  make(map[string]StatusCounts),
		Verdicts: append([]engine.Verdict{}, verdicts...),
	}
	engine.SortVerdicts(r.Verdicts)

	for _, s := range engine.Statuses {
		r.ByStatus[s] = 0
	}

	var total StatusCounts
	for _, v := range r.Verdicts {
		total.Add(v.Status)
		r.ByStatus[v.Status]++

		cc := r.ByClause[v.ClauseID]
		cc.Add(v.Status)
		r.ByClause[v.ClauseID] = cc

		layers := v.Layers()
		if len(layers) == 0 {
			layers = []string{NoLayer}
		}
		for _, l := range layers {
			lc := r.ByLayer[l]
			lc.Add(v.Status)
			r.ByLayer[l] = lc
		}
	}

	r.Summary = Summary{
		Total:         len(r.Verdicts),
		Pass:          total.Pass,
		Fail:          total.Fail,
		Inconclusive:  total.Inconclusive,
		NotApplicable: total.NotApplicable,
		Overall:       total.Overall(),
	}
	return r
}

// Clauses returns the clause ids in the report, sorted.
func (r *Report) Clauses() []string {
	return sortedKeys(r.ByClause)
}

// Layers returns the drawing layers in the report, sorted.
func (r *Report) Layers() []string {
	return sortedKeys(r.ByLayer)
}

// Filter returns the verdicts with status s, in clause order.
func (r *Report) Filter(s engine.Status) []engine.Verdict {
	var out []engine.Verdict
	for _, v := range r.Verdicts {
		if v.Status == s {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(m map[string]StatusCounts) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
