package units

import (
	"fmt"
	"strconv"
)

// Quantity is a numeric value paired with its unit.
type Quantity struct {
	Value float64 `json:"value" yaml:"value"`
	Unit  Unit    `json:"unit" yaml:"unit"`
}

// Canonical returns the quantity converted into its family's canonical unit.
func (q Quantity) Canonical() (Quantity, error) {
	v, u, err := Normalize(q.Value, q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: v, Unit: u}, nil
}

// Family returns the family of the quantity's unit.
func (q Quantity) Family() (Family, error) {
	return FamilyOf(q.Unit)
}

func (q Quantity) String() string {
	return FormatValue(q.Value) + " " + string(q.Unit)
}

// FormatValue renders a float without trailing zeros.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ToleranceKind selects how a tolerance value is interpreted.
type ToleranceKind string

// Tolerance kinds.
const (
	ToleranceAbsolute ToleranceKind = "absolute"
	TolerancePercent  ToleranceKind = "percent"
)

// Tolerance is slack applied at evaluation time. Absolute tolerances carry a
// unit and are converted to canonical units before use; percent tolerances
// are taken relative to the canonical threshold.
type Tolerance struct {
	Value float64       `json:"value" yaml:"value"`
	Kind  ToleranceKind `json:"kind" yaml:"kind"`
	Unit  Unit          `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Canonical returns the tolerance in the canonical unit of family, given the
// canonical threshold it applies to.
func (t Tolerance) Canonical(threshold float64, family Family) (float64, error) {
	if t.Value < 0 {
		return 0, fmt.Errorf("tolerance %v is negative", t.Value)
	}
	switch t.Kind {
	case TolerancePercent:
		if threshold < 0 {
			threshold = -threshold
		}
		return threshold * t.Value / 100, nil
	case ToleranceAbsolute, "":
		if t.Value == 0 {
			return 0, nil
		}
		unit := t.Unit
		if unit == "" {
			unit = CanonicalUnit(family)
		}
		d, ok := Lookup(unit)
		if !ok {
			return 0, &UnsupportedUnitError{Unit: unit}
		}
		if d.Family != family {
			return 0, &FamilyMismatchError{Left: unit, Right: CanonicalUnit(family)}
		}
		return t.Value * d.Factor, nil
	default:
		return 0, fmt.Errorf("unknown tolerance kind %q", string(t.Kind))
	}
}

func (t Tolerance) String() string {
	if t.Kind == TolerancePercent {
		return FormatValue(t.Value) + "%"
	}
	if t.Unit == "" {
		return FormatValue(t.Value)
	}
	return FormatValue(t.Value) + " " + string(t.Unit)
}
