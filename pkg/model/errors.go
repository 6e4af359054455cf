package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientPoints is matched by every *InsufficientPointsError.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDegenerateInput is matched by every *DegenerateInputError.
	ErrDegenerateInput = errors.New("points are degenerate")
)

// InsufficientPointsError is returned when fewer points than Need were supplied.
type InsufficientPointsError struct {
	Have int
	Need int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: have %d, need %d more point(s)", e.Have, e.Missing())
}

// Missing reports how many more points the caller has to supply.
func (e *InsufficientPointsError) Missing() int {
	if e.Have >= e.Need {
		return 0
	}
	return e.Need - e.Have
}

func (e *InsufficientPointsError) Is(target error) bool {
	return target == ErrInsufficientPoints
}

// DegenerateInputError is returned when the basis denominator of point Index
// vanishes, i.e. two x values coincide or are numerically indistinguishable.
type DegenerateInputError struct {
	Index       int
	X           float64
	Denominator float64
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("points are degenerate: x=%g at index %d collides with another point (denominator %g)",
		e.X, e.Index, e.Denominator)
}

func (e *DegenerateInputError) Is(target error) bool {
	return target == ErrDegenerateInput
}
