package engine

import (
	"fmt"
	"math"

	"github.com/c360studio/codecomply/requirement"
	"github.com/c360studio/codecomply/units"
)

// compare applies op to a canonical value. thresholds and tols are
// canonical and index-aligned.
func compare(op requirement.Operator, value float64, thresholds, tols []float64, unit units.Unit) Comparison {
	c := Comparison{
		Value:      value,
		Thresholds: thresholds,
		Unit:       unit,
	}
	if len(tols) > 0 {
		c.Tolerance = tols[0]
	}

	q := func(v float64) string { return units.Quantity{Value: v, Unit: unit}.String() }
	tolNote := func(t float64, sign string) string {
		if t == 0 {
			return ""
		}
		return fmt.Sprintf(" %s %s tolerance", sign, q(t))
	}

	switch op {
	case requirement.OpMin, requirement.OpCountMin:
		t, tol := thresholds[0], tols[0]
		c.Passed = value >= t-tol
		c.Expression = fmt.Sprintf("%s >= %s%s", q(value), q(t), tolNote(tol, "-"))
	case requirement.OpMax, requirement.OpCountMax:
		t, tol := thresholds[0], tols[0]
		c.Passed = value <= t+tol
		c.Expression = fmt.Sprintf("%s <= %s%s", q(value), q(t), tolNote(tol, "+"))
	case requirement.OpEquals:
		t, tol := thresholds[0], tols[0]
		diff := math.Abs(value - t)
		c.Passed = diff <= tol
		c.Expression = fmt.Sprintf("|%s - %s| = %s <= %s", q(value), q(t), q(diff), q(tol))
	case requirement.OpRange:
		lo, hi := thresholds[0], thresholds[1]
		tlo, thi := tols[0], tols[1]
		c.Tolerance = math.Max(tlo, thi)
		c.Passed = lo-tlo <= value && value <= hi+thi
		expr := fmt.Sprintf("%s <= %s <= %s", q(lo), q(value), q(hi))
		if tlo != 0 || thi != 0 {
			expr += fmt.Sprintf(" (tolerance -%s/+%s)", q(tlo), q(thi))
		}
		c.Expression = expr
	default:
		c.Expression = fmt.Sprintf("operator %s has no numeric comparison", op)
	}
	return c
}
