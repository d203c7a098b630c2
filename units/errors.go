package units

import "fmt"

// UnsupportedUnitError is returned for any unit tag outside the unit table.
type UnsupportedUnitError struct {
	Unit Unit
}

func (e *UnsupportedUnitError) Error() string {
	if e.Unit == "" {
		return "unsupported unit: missing unit tag"
	}
	return fmt.Sprintf("unsupported unit %q", string(e.Unit))
}

// FamilyMismatchError is returned when two quantities from different
// families are compared.
type FamilyMismatchError struct {
	Left  Unit
	Right Unit
}

func (e *FamilyMismatchError) Error() string {
	return fmt.Sprintf("cannot compare %q with %q: different unit families", string(e.Left), string(e.Right))
}
