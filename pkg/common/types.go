package common

import (
	"errors"
	"fmt"
)

// Epsilon is the zero threshold shared by the interpolator, the formatter and
// the point-set duplicate check. Keep it single-sourced.
const Epsilon = 1e-10

// MinPoints is the smallest point count that determines a polynomial.
const MinPoints = 2

// ErrTooManyPoints is returned when a request or set exceeds limits.max_points.
// The workspace, the wire protocol and the client all match this one value.
var ErrTooManyPoints = errors.New("too many points")

// Point is one (x, y) sample.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// String 方便调试打印
func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}
