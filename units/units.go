// Package units converts measured and required quantities into the canonical
// unit of their family so that comparisons are always made like for like.
//
// Length is compared in millimetres, area in square millimetres, ratios and
// counts are dimensionless. Any unit missing from the table is rejected with
// an UnsupportedUnitError; there is no pass-through conversion.
package units

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Family groups units that can be converted into each other.
type Family string

// Supported unit families.
const (
	FamilyLength Family = "length"
	FamilyArea   Family = "area"
	FamilyRatio  Family = "ratio"
	FamilyCount  Family = "count"
)

// Unit is a unit tag as it appears in extracted records.
type Unit string

// Canonical units, one per family.
const (
	Millimetre       Unit = "mm"
	SquareMillimetre Unit = "mm2"
	Ratio            Unit = "ratio"
	Count            Unit = "count"
)

// ErrNonIntegralCount is returned when a count carries a fractional value.
var ErrNonIntegralCount = errors.New("count value is not an integer")

// Definition describes one entry of the unit table.
type Definition struct {
	Unit   Unit
	Family Family
	// Factor multiplies a value in Unit to obtain the canonical value.
	Factor  float64
	Aliases []string
}

// Canonical returns the canonical unit of the definition's family.
func (d Definition) Canonical() Unit {
	return CanonicalUnit(d.Family)
}

var table = []Definition{
	{Unit: "mm", Family: FamilyLength, Factor: 1, Aliases: []string{"millimetre", "millimetres", "millimeter", "millimeters"}},
	{Unit: "cm", Family: FamilyLength, Factor: 10, Aliases: []string{"centimetre", "centimetres", "centimeter", "centimeters"}},
	{Unit: "m", Family: FamilyLength, Factor: 1000, Aliases: []string{"metre", "metres", "meter", "meters"}},
	{Unit: "in", Family: FamilyLength, Factor: 25.4, Aliases: []string{"inch", "inches", `"`}},
	{Unit: "ft", Family: FamilyLength, Factor: 304.8, Aliases: []string{"foot", "feet", "'"}},

	{Unit: "mm2", Family: FamilyArea, Factor: 1, Aliases: []string{"sq mm", "mm²"}},
	{Unit: "cm2", Family: FamilyArea, Factor: 100, Aliases: []string{"sq cm", "cm²"}},
	{Unit: "m2", Family: FamilyArea, Factor: 1e6, Aliases: []string{"sq m", "m²"}},
	{Unit: "in2", Family: FamilyArea, Factor: 645.16, Aliases: []string{"sq in", "in²"}},
	{Unit: "ft2", Family: FamilyArea, Factor: 92903.04, Aliases: []string{"sq ft", "ft²"}},

	{Unit: "ratio", Family: FamilyRatio, Factor: 1, Aliases: []string{"fraction"}},
	{Unit: "%", Family: FamilyRatio, Factor: 0.01, Aliases: []string{"percent", "pct"}},

	{Unit: "count", Family: FamilyCount, Factor: 1, Aliases: []string{"ea", "each", "no", "qty"}},
}

// index maps every lowercase tag and alias to its definition.
var index = buildIndex()

func buildIndex() map[string]Definition {
	idx := make(map[string]Definition, len(table)*4)
	for _, d := range table {
		idx[string(d.Unit)] = d
		for _, a := range d.Aliases {
			idx[a] = d
		}
	}
	return idx
}

func key(u Unit) string {
	return strings.ToLower(strings.TrimSpace(string(u)))
}

// Lookup returns the table entry for a unit tag or alias.
func Lookup(u Unit) (Definition, bool) {
	d, ok := index[key(u)]
	return d, ok
}

// Supported reports whether the unit is in the table.
func Supported(u Unit) bool {
	_, ok := Lookup(u)
	return ok
}

// FamilyOf returns the family of a unit.
func FamilyOf(u Unit) (Family, error) {
	d, ok := Lookup(u)
	if !ok {
		return "", &UnsupportedUnitError{Unit: u}
	}
	return d.Family, nil
}

// CanonicalUnit returns the canonical unit for a family.
func CanonicalUnit(f Family) Unit {
	switch f {
	case FamilyLength:
		return Millimetre
	case FamilyArea:
		return SquareMillimetre
	case FamilyRatio:
		return Ratio
	case FamilyCount:
		return Count
	default:
		return ""
	}
}

// Compatible reports whether two units belong to the same family.
func Compatible(a, b Unit) bool {
	da, okA := Lookup(a)
	db, okB := Lookup(b)
	return okA && okB && da.Family == db.Family
}

// Normalize converts value expressed in unit into the canonical unit of the
// unit's family.
func Normalize(value float64, unit Unit) (float64, Unit, error) {
	d, ok := Lookup(unit)
	if !ok {
		return 0, "", &UnsupportedUnitError{Unit: unit}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, "", fmt.Errorf("normalize %v %s: value is not finite", value, unit)
	}
	if d.Family == FamilyCount && value != math.Trunc(value) {
		return 0, "", fmt.Errorf("normalize %v %s: %w", value, unit, ErrNonIntegralCount)
	}
	return value * d.Factor, d.Canonical(), nil
}

// Denormalize converts a canonical value back into unit.
func Denormalize(canonical float64, unit Unit) (float64, error) {
	d, ok := Lookup(unit)
	if !ok {
		return 0, &UnsupportedUnitError{Unit: unit}
	}
	return canonical / d.Factor, nil
}

// Convert converts value between two units of the same family.
func Convert(value float64, from, to Unit) (float64, error) {
	if !Compatible(from, to) {
		if !Supported(from) {
			return 0, &UnsupportedUnitError{Unit: from}
		}
		if !Supported(to) {
			return 0, &UnsupportedUnitError{Unit: to}
		}
		return 0, &FamilyMismatchError{Left: from, Right: to}
	}
	c, _, err := Normalize(value, from)
	if err != nil {
		return 0, err
	}
	return Denormalize(c, to)
}

// Definitions returns the unit table sorted by family, smallest unit first.
func Definitions() []Definition {
	out := make([]Definition, len(table))
	copy(out, table)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Factor < out[j].Factor
	})
	return out
}

// FromDXFInsUnits maps a DXF $INSUNITS header code to a unit. Code 0
// (unitless) and codes outside the table are not mapped.
func FromDXFInsUnits(code int) (Unit, bool) {
	switch code {
	case 1:
		return "in", true
	case 2:
		return "ft", true
	case 4:
		return "mm", true
	case 5:
		return "cm", true
	case 6:
		return "m", true
	default:
		return "", false
	}
}
