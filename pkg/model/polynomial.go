package model

// Coefficients holds c[k], the coefficient of x^k. Its length is the number
// of points it was interpolated from; zero high-order terms are kept.
type Coefficients []float64

// Degree is len(c)-1, regardless of trailing zeros.
func (c Coefficients) Degree() int {
	return len(c) - 1
}

func (c Coefficients) Clone() Coefficients {
	if c == nil {
		return nil
	}
	out := make(Coefficients, len(c))
	copy(out, c)
	return out
}

// Evaluate computes Σ c[k]·x^k with Horner's scheme. Non-finite coefficients
// propagate into the result.
func (c Coefficients) Evaluate(x float64) float64 {
	var y float64
	for k := len(c) - 1; k >= 0; k-- {
		y = y*x + c[k]
	}
	return y
}

// EvaluateAll evaluates c at every x in xs.
func (c Coefficients) EvaluateAll(xs []float64) []float64 {
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = c.Evaluate(x)
	}
	return ys
}

func (c Coefficients) Format() string {
	return Format(c)
}

// Evaluate is the function form of Coefficients.Evaluate.
func Evaluate(c Coefficients, x float64) float64 {
	return c.Evaluate(x)
}
