// Package requirement holds the canonical in-memory form of building-code
// rules extracted from regulatory text.
//
// A Requirement is a tagged variant: an Operator plus a fixed-arity list of
// thresholds. Instances are immutable; re-parsing a clause produces a new
// Requirement rather than mutating an existing one.
package requirement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/codecomply/units"
)

var validate = validator.New()

// Spec is the plain record produced by the text-extraction front end.
type Spec struct {
	ClauseID      string            `json:"clause_id" yaml:"clause_id" validate:"required"`
	Title         string            `json:"title,omitempty" yaml:"title,omitempty"`
	Subject       string            `json:"subject" yaml:"subject" validate:"required"`
	Operator      string            `json:"operator" yaml:"operator" validate:"required"`
	Thresholds    []units.Quantity  `json:"thresholds,omitempty" yaml:"thresholds,omitempty" validate:"max=2"`
	Applicability map[string]string `json:"applicability,omitempty" yaml:"applicability,omitempty"`
	Tolerance     *units.Tolerance  `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	// Source names the code document the clause came from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Requirement is one validated code rule.
type Requirement struct {
	clauseID      string
	title         string
	subject       string
	operator      Operator
	thresholds    []units.Quantity
	applicability []Condition
	tolerance     *units.Tolerance
	source        string
}

// New validates spec and builds a Requirement. Any violated invariant is
// reported as a *MalformedRequirementError.
func New(spec Spec) (*Requirement, error) {
	id := strings.TrimSpace(spec.ClauseID)
	if err := validate.Struct(spec); err != nil {
		return nil, malformed(id, "invalid record", err)
	}

	op, err := ParseOperator(spec.Operator)
	if err != nil {
		return nil, malformed(id, "invalid operator", err)
	}

	if got, want := len(spec.Thresholds), op.Arity(); got != want {
		return nil, malformed(id, fmt.Sprintf("operator %s takes %d threshold(s), got %d", op, want, got), nil)
	}

	thresholds := make([]units.Quantity, len(spec.Thresholds))
	for i, t := range spec.Thresholds {
		if strings.TrimSpace(string(t.Unit)) == "" {
			return nil, malformed(id, fmt.Sprintf("threshold %d has no unit", i+1), nil)
		}
		thresholds[i] = units.Quantity{Value: t.Value, Unit: units.Unit(strings.TrimSpace(string(t.Unit)))}
	}

	if op == OpRange {
		lo, errLo := thresholds[0].Canonical()
		hi, errHi := thresholds[1].Canonical()
		// Unsupported units are left for evaluation to report as inconclusive.
		if errLo == nil && errHi == nil && lo.Unit == hi.Unit && lo.Value > hi.Value {
			return nil, malformed(id, fmt.Sprintf("range low %s exceeds high %s", thresholds[0], thresholds[1]), nil)
		}
	}

	var tol *units.Tolerance
	if spec.Tolerance != nil {
		t := *spec.Tolerance
		if t.Value < 0 {
			return nil, malformed(id, "tolerance is negative", nil)
		}
		switch t.Kind {
		case "", units.ToleranceAbsolute, units.TolerancePercent:
		default:
			return nil, malformed(id, fmt.Sprintf("unknown tolerance kind %q", t.Kind), nil)
		}
		tol = &t
	}

	return &Requirement{
		clauseID:      id,
		title:         strings.TrimSpace(spec.Title),
		subject:       NormalizeSubject(spec.Subject),
		operator:      op,
		thresholds:    thresholds,
		applicability: buildConditions(spec.Applicability),
		tolerance:     tol,
		source:        spec.Source,
	}, nil
}

// NormalizeSubject lowercases a label and collapses its whitespace.
func NormalizeSubject(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ClauseID returns the unique source reference.
func (r *Requirement) ClauseID() string { return r.clauseID }

// Title returns the clause heading, if one was extracted.
func (r *Requirement) Title() string { return r.title }

// Subject returns the normalized subject label.
func (r *Requirement) Subject() string { return r.subject }

// Operator returns the comparison operator.
func (r *Requirement) Operator() Operator { return r.operator }

// Source returns the originating document name.
func (r *Requirement) Source() string { return r.source }

// Thresholds returns a copy of the ordered thresholds.
func (r *Requirement) Thresholds() []units.Quantity {
	out := make([]units.Quantity, len(r.thresholds))
	copy(out, r.thresholds)
	return out
}

// Applicability returns a copy of the conditions, sorted by key. An empty
// result means the requirement is unconditional.
func (r *Requirement) Applicability() []Condition {
	out := make([]Condition, len(r.applicability))
	copy(out, r.applicability)
	return out
}

// Tolerance returns the declared tolerance.
func (r *Requirement) Tolerance() (units.Tolerance, bool) {
	if r.tolerance == nil {
		return units.Tolerance{}, false
	}
	return *r.tolerance, true
}

func (r *Requirement) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s %s", r.clauseID, r.subject, r.operator)
	for _, t := range r.thresholds {
		sb.WriteString(" ")
		sb.WriteString(t.String())
	}
	return sb.String()
}

// Collection is the read-only set of requirements for one run.
type Collection struct {
	items []*Requirement
	byID  map[string]*Requirement
}

// NewCollection builds requirements from specs. Malformed records are
// excluded and their errors returned; the remaining records form the
// collection.
func NewCollection(specs []Spec) (*Collection, []error) {
	c := &Collection{byID: make(map[string]*Requirement, len(specs))}
	var errs []error
	for _, s := range specs {
		r, err := New(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.byID[r.clauseID]; dup {
			errs = append(errs, malformed(r.clauseID, "rejected", ErrDuplicateClause))
			continue
		}
		c.byID[r.clauseID] = r
		c.items = append(c.items, r)
	}
	sort.Slice(c.items, func(i, j int) bool { return c.items[i].clauseID < c.items[j].clauseID })
	return c, errs
}

// Len returns the number of requirements.
func (c *Collection) Len() int { return len(c.items) }

// All returns the requirements ordered by clause id.
func (c *Collection) All() []*Requirement {
	out := make([]*Requirement, len(c.items))
	copy(out, c.items)
	return out
}

// Get returns a requirement by clause id.
func (c *Collection) Get(clauseID string) (*Requirement, bool) {
	r, ok := c.byID[clauseID]
	return r, ok
}
