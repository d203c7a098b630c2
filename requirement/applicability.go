package requirement

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Condition is one applicability constraint: the drawing context value for
// Key must equal one of Values, or fall inside the numeric range when one is
// declared (e.g. "storeys: 1-3").
type Condition struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	Low    *float64 `json:"-" yaml:"-"`
	High   *float64 `json:"-" yaml:"-"`
}

// NormalizeKey canonicalises an applicability or context key.
func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	return k
}

// parseCondition builds a Condition from its raw declared form.
func parseCondition(key, raw string) Condition {
	c := Condition{Key: NormalizeKey(key)}
	raw = strings.TrimSpace(raw)
	if lo, hi, ok := parseRange(raw); ok {
		c.Low, c.High = &lo, &hi
		return c
	}
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			c.Values = append(c.Values, strings.ToLower(v))
		}
	}
	return c
}

// parseRange recognises "a-b", "a..b", ">=a" and "<=b".
func parseRange(raw string) (float64, float64, bool) {
	switch {
	case strings.HasPrefix(raw, ">="):
		lo, err := strconv.ParseFloat(strings.TrimSpace(raw[2:]), 64)
		if err != nil {
			return 0, 0, false
		}
		return lo, math.Inf(1), true
	case strings.HasPrefix(raw, "<="):
		hi, err := strconv.ParseFloat(strings.TrimSpace(raw[2:]), 64)
		if err != nil {
			return 0, 0, false
		}
		return math.Inf(-1), hi, true
	}
	for _, sep := range []string{"..", "-"} {
		// Skip a leading sign so "-1-2" is not split on the sign.
		i := strings.Index(raw[min(1, len(raw)):], sep)
		if i < 0 {
			continue
		}
		i += min(1, len(raw))
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(raw[:i]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(raw[i+len(sep):]), 64)
		if err1 == nil && err2 == nil && lo <= hi {
			return lo, hi, true
		}
	}
	return 0, 0, false
}

// IsRange reports whether the condition is numeric.
func (c Condition) IsRange() bool {
	return c.Low != nil && c.High != nil
}

// Satisfied reports whether a drawing context value meets the condition.
func (c Condition) Satisfied(value string) bool {
	value = strings.TrimSpace(value)
	if c.IsRange() {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
		return v >= *c.Low && v <= *c.High
	}
	value = strings.ToLower(value)
	for _, want := range c.Values {
		if want == value {
			return true
		}
	}
	return false
}

func (c Condition) String() string {
	if c.IsRange() {
		switch {
		case math.IsInf(*c.High, 1):
			return c.Key + " >= " + strconv.FormatFloat(*c.Low, 'f', -1, 64)
		case math.IsInf(*c.Low, -1):
			return c.Key + " <= " + strconv.FormatFloat(*c.High, 'f', -1, 64)
		}
		return c.Key + " in " + strconv.FormatFloat(*c.Low, 'f', -1, 64) + "-" + strconv.FormatFloat(*c.High, 'f', -1, 64)
	}
	return c.Key + " = " + strings.Join(c.Values, "|")
}

func buildConditions(raw map[string]string) []Condition {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(raw))
	for k, v := range raw {
		out = append(out, parseCondition(k, v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
