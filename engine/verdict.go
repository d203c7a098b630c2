package engine

import (
	"github.com/c360studio/codecomply/requirement"
	"github.com/c360studio/codecomply/units"
)

// Status is the outcome of evaluating one requirement against one drawing.
type Status string

// Verdict statuses.
const (
	StatusPass          Status = "PASS"
	StatusFail          Status = "FAIL"
	StatusInconclusive  Status = "INCONCLUSIVE"
	StatusNotApplicable Status = "NOT_APPLICABLE"
)

// Statuses lists every status in report order.
var Statuses = []Status{StatusPass, StatusFail, StatusInconclusive, StatusNotApplicable}

// MeasurementRef identifies a measurement a verdict relied on.
type MeasurementRef struct {
	ID      string         `json:"id" yaml:"id"`
	Subject string         `json:"subject" yaml:"subject"`
	Layer   string         `json:"layer" yaml:"layer"`
	Entity  string         `json:"entity" yaml:"entity"`
	Value   units.Quantity `json:"value" yaml:"value"`
	Score   int            `json:"score" yaml:"score"`
	Reason  string         `json:"reason" yaml:"reason"`
}

// Comparison records one numeric check performed in canonical units.
type Comparison struct {
	MeasurementID string     `json:"measurement_id,omitempty" yaml:"measurement_id,omitempty"`
	Value         float64    `json:"value" yaml:"value"`
	Thresholds    []float64  `json:"thresholds" yaml:"thresholds"`
	Tolerance     float64    `json:"tolerance" yaml:"tolerance"`
	Unit          units.Unit `json:"unit" yaml:"unit"`
	Passed        bool       `json:"passed" yaml:"passed"`
	Expression    string     `json:"expression" yaml:"expression"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Verdict is the compliance outcome for one requirement. It is created once
// by the engine and never modified afterwards.
type Verdict struct {
	ClauseID    string               `json:"clause_id" yaml:"clause_id"`
	Subject     string               `json:"subject" yaml:"subject"`
	Operator    requirement.Operator `json:"operator" yaml:"operator"`
	Status      Status               `json:"status" yaml:"status"`
	Matched     []MeasurementRef     `json:"matched_measurements" yaml:"matched_measurements"`
	Comparisons []Comparison         `json:"comparisons,omitempty" yaml:"comparisons,omitempty"`
	Detail      string               `json:"detail" yaml:"detail"`
}

// Layers returns the distinct layers of the matched measurements in match
// order.
func (v Verdict) Layers() []string {
	seen := make(map[string]bool, len(v.Matched))
	var out []string
	for _, m := range v.Matched {
		if !seen[m.Layer] {
			seen[m.Layer] = true
			out = append(out, m.Layer)
		}
	}
	return out
}
