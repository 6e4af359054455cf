package model

import (
	"math"
	"strconv"
	"strings"

	"polyfit/pkg/common"
)

const equationPrefix = "f(x) = "

// Format renders c as "f(x) = <terms>", highest power first. Terms whose
// coefficient is below common.Epsilon in magnitude are dropped; when nothing
// is left the result is "f(x) = 0".
func Format(c Coefficients) string {
	var sb strings.Builder
	sb.WriteString(equationPrefix)

	first := true
	for k := len(c) - 1; k >= 0; k-- {
		coeff := c[k]
		if math.Abs(coeff) < common.Epsilon {
			continue
		}

		negative := math.Signbit(coeff)
		switch {
		case first && negative:
			sb.WriteString("-")
		case !first && negative:
			sb.WriteString(" - ")
		case !first:
			sb.WriteString(" + ")
		}
		first = false

		sb.WriteString(formatTerm(math.Abs(coeff), k))
	}

	if first {
		sb.WriteString("0")
	}
	return sb.String()
}

// formatTerm renders one term from a non-negative magnitude.
func formatTerm(mag float64, power int) string {
	if power == 0 {
		return FormatNumber(mag)
	}

	variable := "x"
	if power > 1 {
		variable = "x^" + strconv.Itoa(power)
	}
	if math.Abs(mag-1) < common.Epsilon {
		return variable
	}
	return FormatNumber(mag) + variable
}

// FormatNumber renders v for display: "0" below common.Epsilon, the bare
// integer when v is within common.Epsilon of one, otherwise fixed-point with
// six decimals. Scientific notation is never used.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.Abs(v) < common.Epsilon:
		return "0"
	}

	if r := math.Round(v); math.Abs(v-r) < common.Epsilon {
		return strconv.FormatFloat(r, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
