package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/c360studio/codecomply/measurement"
	"github.com/c360studio/codecomply/requirement"
	"github.com/c360studio/codecomply/units"
)

// RequirementDocument is the output of the text-extraction front end.
type RequirementDocument struct {
	// Source names the code document, e.g. "IBC 2021".
	Source       string              `json:"source" yaml:"source"`
	Requirements []RequirementRecord `json:"requirements" yaml:"requirements"`
}

// RequirementRecord is one clause as written in a requirements document.
// Applicability values may be strings or numbers.
type RequirementRecord struct {
	ClauseID      string           `json:"clause_id" yaml:"clause_id"`
	Title         string           `json:"title" yaml:"title"`
	Subject       string           `json:"subject" yaml:"subject"`
	Operator      string           `json:"operator" yaml:"operator"`
	Thresholds    []units.Quantity `json:"thresholds" yaml:"thresholds"`
	Applicability map[string]any   `json:"applicability" yaml:"applicability"`
	Tolerance     *units.Tolerance `json:"tolerance" yaml:"tolerance"`
	Source        string           `json:"source" yaml:"source"`
}

// Spec converts the record, using source when the record names none.
func (r RequirementRecord) Spec(source string) requirement.Spec {
	spec := requirement.Spec{
		ClauseID:   r.ClauseID,
		Title:      r.Title,
		Subject:    r.Subject,
		Operator:   r.Operator,
		Thresholds: r.Thresholds,
		Tolerance:  r.Tolerance,
		Source:     r.Source,
	}
	if spec.Source == "" {
		spec.Source = source
	}
	if len(r.Applicability) > 0 {
		spec.Applicability = stringMap(r.Applicability)
	}
	return spec
}

// DrawingDocument is the output of the CAD-extraction front end.
type DrawingDocument struct {
	Filename string `json:"filename" yaml:"filename"`
	// Units is the drawing's unit, either a unit name ("mm") or a DXF
	// $INSUNITS code (4). It applies to measurements that omit a unit.
	Units any `json:"units" yaml:"units"`
	// Scale converts paper lengths to model lengths. Zero means 1.
	Scale        float64             `json:"scale" yaml:"scale"`
	Context      map[string]any      `json:"context" yaml:"context"`
	Measurements []MeasurementRecord `json:"measurements" yaml:"measurements"`
}

// MeasurementRecord is one extracted entity as written in a drawing document.
type MeasurementRecord struct {
	ID      string         `json:"id" yaml:"id"`
	Subject string         `json:"subject" yaml:"subject"`
	Value   *float64       `json:"value" yaml:"value"`
	Unit    string         `json:"unit" yaml:"unit"`
	Layer   string         `json:"layer" yaml:"layer"`
	Index   int            `json:"index" yaml:"index"`
	Handle  string         `json:"handle" yaml:"handle"`
	X       *float64       `json:"x" yaml:"x"`
	Y       *float64       `json:"y" yaml:"y"`
	Context map[string]any `json:"context" yaml:"context"`
}

// DrawingUnit resolves the document-level unit. ok is false when the
// document declares none; an error means it declared one that is not
// understood.
func (d DrawingDocument) DrawingUnit() (units.Unit, bool, error) {
	var code int
	switch v := d.Units.(type) {
	case nil:
		return "", false, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", false, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			if !units.Supported(units.Unit(s)) {
				return "", false, &units.UnsupportedUnitError{Unit: units.Unit(s)}
			}
			return units.Unit(s), true, nil
		}
		code = n
	case int:
		code = v
	case float64:
		code = int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return "", false, fmt.Errorf("drawing units %q is not an $INSUNITS code", v)
		}
		code = int(n)
	default:
		return "", false, fmt.Errorf("drawing units has unsupported type %T", v)
	}
	if code == 0 {
		return "", false, nil
	}
	u, ok := units.FromDXFInsUnits(code)
	if !ok {
		return "", false, fmt.Errorf("unsupported $INSUNITS code %d", code)
	}
	return u, true, nil
}

// Spec converts the record. Measurements without their own unit take
// drawingUnit; lengths and areas are multiplied by scale.
func (r MeasurementRecord) Spec(drawingUnit units.Unit, scale float64) measurement.Spec {
	spec := measurement.Spec{
		ID:      r.ID,
		Subject: r.Subject,
		Unit:    strings.TrimSpace(r.Unit),
		Layer:   r.Layer,
		Index:   r.Index,
		Handle:  r.Handle,
		X:       r.X,
		Y:       r.Y,
	}
	if spec.Unit == "" {
		spec.Unit = string(drawingUnit)
	}
	if r.Value != nil {
		v := *r.Value
		if scale != 0 && scale != 1 {
			switch f, _ := units.FamilyOf(units.Unit(spec.Unit)); f {
			case units.FamilyLength:
				v *= scale
			case units.FamilyArea:
				v *= scale * scale
			}
		}
		spec.Value = &v
	}
	if len(r.Context) > 0 {
		spec.Context = stringMap(r.Context)
	}
	return spec
}

// stringMap renders scalar values as strings so that "storeys: 3" and
// "storeys: '3'" mean the same thing.
func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[k] = t
		case float64:
			out[k] = units.FormatValue(t)
		case json.Number:
			out[k] = t.String()
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
