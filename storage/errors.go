package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when no report is stored for a drawing.
	ErrNotFound = errors.New("report not found")
)
