package model

import (
	"math"

	"polyfit/pkg/common"
)

// Interpolate returns the coefficients of the unique polynomial of degree
// len(points)-1 through every point.
//
// Each Lagrange basis Π_{j≠i}(x - x_j) is expanded into monomial coefficients
// by repeated multiplication with (x - x_j), then scaled by y_i over
// Π_{j≠i}(x_i - x_j) and accumulated. Summation runs over point index then
// coefficient index, both ascending, so results are reproducible.
func Interpolate(points []common.Point) (Coefficients, error) {
	n := len(points)
	if n < common.MinPoints {
		return nil, &InsufficientPointsError{Have: n, Need: common.MinPoints}
	}

	result := make(Coefficients, n)
	basis := make([]float64, n)

	for i, pi := range points {
		for k := range basis {
			basis[k] = 0
		}
		basis[0] = 1
		denominator := 1.0
		deg := 0

		for j, pj := range points {
			if j == i {
				continue
			}
			// basis *= (x - x_j), highest power first so basis[k-1] is still the old value
			for k := deg + 1; k > 0; k-- {
				basis[k] = basis[k-1] - pj.X*basis[k]
			}
			basis[0] *= -pj.X
			deg++
			denominator *= pi.X - pj.X
		}

		if math.Abs(denominator) < common.Epsilon || math.IsNaN(denominator) {
			return nil, &DegenerateInputError{Index: i, X: pi.X, Denominator: denominator}
		}

		for k := 0; k < n; k++ {
			result[k] += pi.Y * basis[k] / denominator
		}
	}

	return result, nil
}
