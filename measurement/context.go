package measurement

import (
	"sort"
	"strings"

	"github.com/c360studio/codecomply/requirement"
)

// DrawingContext holds drawing-level facts such as occupancy class or storey,
// supplied by the CAD-extraction front end. Keys are normalized.
type DrawingContext map[string]string

// NewDrawingContext normalizes keys and trims values. Empty values are
// dropped so that they count as missing.
func NewDrawingContext(raw map[string]string) DrawingContext {
	dc := make(DrawingContext, len(raw))
	for k, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			dc[requirement.NormalizeKey(k)] = v
		}
	}
	return dc
}

// Get returns the value for key.
func (dc DrawingContext) Get(key string) (string, bool) {
	v, ok := dc[requirement.NormalizeKey(key)]
	return v, ok
}

// Keys returns the context keys, sorted.
func (dc DrawingContext) Keys() []string {
	keys := make([]string, 0, len(dc))
	for k := range dc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
