// Package measurement holds the canonical form of facts extracted from CAD
// drawings: a labelled quantity and the drawing entity it came from.
package measurement

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/codecomply/requirement"
	"github.com/c360studio/codecomply/units"
)

var validate = validator.New()

// ErrDuplicateID is wrapped by MalformedMeasurementError when two records
// resolve to the same id.
var ErrDuplicateID = errors.New("duplicate measurement id")

// MalformedMeasurementError reports a record that violates the measurement
// invariants. The record is excluded from evaluation.
type MalformedMeasurementError struct {
	ID     string
	Reason string
	Err    error
}

func (e *MalformedMeasurementError) Error() string {
	id := e.ID
	if id == "" {
		id = "<no id>"
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed measurement %s: %s: %v", id, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed measurement %s: %s", id, e.Reason)
}

func (e *MalformedMeasurementError) Unwrap() error { return e.Err }

// EntityRef locates a measurement in the source drawing.
type EntityRef struct {
	Layer  string   `json:"layer" yaml:"layer"`
	Index  int      `json:"index" yaml:"index"`
	Handle string   `json:"handle,omitempty" yaml:"handle,omitempty"`
	X      *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y      *float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

func (e EntityRef) String() string {
	s := e.Layer + "#" + strconv.Itoa(e.Index)
	if e.Handle != "" {
		s += " (" + e.Handle + ")"
	}
	if e.X != nil && e.Y != nil {
		s += fmt.Sprintf(" @%s,%s", units.FormatValue(*e.X), units.FormatValue(*e.Y))
	}
	return s
}

// Spec is the plain record produced by the CAD-extraction front end.
type Spec struct {
	ID      string            `json:"id,omitempty" yaml:"id,omitempty"`
	Subject string            `json:"subject" yaml:"subject" validate:"required"`
	Value   *float64          `json:"value" yaml:"value" validate:"required"`
	Unit    string            `json:"unit,omitempty" yaml:"unit,omitempty"`
	Layer   string            `json:"layer,omitempty" yaml:"layer,omitempty"`
	Index   int               `json:"index,omitempty" yaml:"index,omitempty" validate:"min=0"`
	Handle  string            `json:"handle,omitempty" yaml:"handle,omitempty"`
	X       *float64          `json:"x,omitempty" yaml:"x,omitempty"`
	Y       *float64          `json:"y,omitempty" yaml:"y,omitempty"`
	Context map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
}

// Measurement is one validated drawing fact.
type Measurement struct {
	id      string
	subject string
	value   units.Quantity
	entity  EntityRef
	context map[string]string
}

// New validates spec and builds a Measurement. A value without an explicit
// unit is rejected.
func New(spec Spec) (*Measurement, error) {
	id := spec.ID
	if id == "" && (spec.Layer != "" || spec.Handle != "") {
		id = defaultID(spec)
	}
	if err := validate.Struct(spec); err != nil {
		return nil, &MalformedMeasurementError{ID: id, Reason: "invalid record", Err: err}
	}
	unit := strings.TrimSpace(spec.Unit)
	if unit == "" {
		return nil, &MalformedMeasurementError{ID: id, Reason: "value has no unit"}
	}
	if math.IsNaN(*spec.Value) || math.IsInf(*spec.Value, 0) {
		return nil, &MalformedMeasurementError{ID: id, Reason: "value is not finite"}
	}
	if id == "" {
		id = defaultID(spec)
	}

	ctx := make(map[string]string, len(spec.Context))
	for k, v := range spec.Context {
		ctx[requirement.NormalizeKey(k)] = strings.TrimSpace(v)
	}

	return &Measurement{
		id:      id,
		subject: requirement.NormalizeSubject(spec.Subject),
		value:   units.Quantity{Value: *spec.Value, Unit: units.Unit(unit)},
		entity: EntityRef{
			Layer:  spec.Layer,
			Index:  spec.Index,
			Handle: spec.Handle,
			X:      spec.X,
			Y:      spec.Y,
		},
		context: ctx,
	}, nil
}

func defaultID(spec Spec) string {
	if spec.Handle != "" {
		return spec.Handle
	}
	return spec.Layer + "#" + strconv.Itoa(spec.Index)
}

// ID returns the stable measurement identifier.
func (m *Measurement) ID() string { return m.id }

// Subject returns the normalized subject label.
func (m *Measurement) Subject() string { return m.subject }

// Value returns the measured quantity.
func (m *Measurement) Value() units.Quantity { return m.value }

// Entity returns the drawing location.
func (m *Measurement) Entity() EntityRef { return m.entity }

// Layer is shorthand for Entity().Layer.
func (m *Measurement) Layer() string { return m.entity.Layer }

// Context returns a copy of the measurement's context tags.
func (m *Measurement) Context() map[string]string {
	out := make(map[string]string, len(m.context))
	for k, v := range m.context {
		out[k] = v
	}
	return out
}

func (m *Measurement) String() string {
	return fmt.Sprintf("%s: %s = %s", m.id, m.subject, m.value)
}

// Collection is the read-only set of measurements for one drawing.
type Collection struct {
	items []*Measurement
}

// NewCollection builds measurements from specs. Malformed records are
// excluded and their errors returned.
func NewCollection(specs []Spec) (*Collection, []error) {
	c := &Collection{}
	seen := make(map[string]bool, len(specs))
	var errs []error
	for i, s := range specs {
		if s.ID == "" && s.Layer == "" && s.Handle == "" {
			s.ID = "#" + strconv.Itoa(i)
		}
		m, err := New(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[m.id] {
			errs = append(errs, &MalformedMeasurementError{ID: m.id, Reason: "rejected", Err: ErrDuplicateID})
			continue
		}
		seen[m.id] = true
		c.items = append(c.items, m)
	}
	sort.SliceStable(c.items, func(i, j int) bool { return c.items[i].id < c.items[j].id })
	return c, errs
}

// Len returns the number of measurements.
func (c *Collection) Len() int { return len(c.items) }

// All returns the measurements ordered by id.
func (c *Collection) All() []*Measurement {
	out := make([]*Measurement, len(c.items))
	copy(out, c.items)
	return out
}

// Layers returns the distinct drawing layers, sorted.
func (c *Collection) Layers() []string {
	set := make(map[string]bool)
	for _, m := range c.items {
		set[m.entity.Layer] = true
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
