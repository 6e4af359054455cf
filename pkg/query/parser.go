package query

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"polyfit/pkg/common"
)

type Kind int

const (
	KindFit Kind = iota + 1
	KindEval
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindFit:
		return "FIT"
	case KindEval:
		return "EVAL"
	case KindFormat:
		return "FORMAT"
	default:
		return "UNKNOWN"
	}
}

// Command is one parsed REPL line.
type Command struct {
	Kind         Kind
	Points       []common.Point
	X            float64
	Coefficients []float64
}

var (
	ErrEmpty  = errors.New("empty query")
	ErrSyntax = errors.New("syntax error")

	stmtRe  = regexp.MustCompile(`(?i)^(FIT|EVAL|FORMAT)(?:\s+(.*))?$`)
	pointRe = regexp.MustCompile(`\(\s*([^,()\s]+)\s*,\s*([^,()\s]+)\s*\)`)
	sepRe   = regexp.MustCompile(`^[\s,]*$`)
)

// Parse parses:
// "FIT (0,1) (1,2) (2,5)"
// "EVAL 3 (0,1) (1,2) (2,5)"
// "FORMAT 3 -2 1"
// Verbs are case-insensitive; a trailing ';' is ignored.
func Parse(s string) (*Command, error) {
	orig := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
	if orig == "" {
		return nil, ErrEmpty
	}

	matches := stmtRe.FindStringSubmatch(orig)
	if matches == nil {
		return nil, fmt.Errorf("%w: expected FIT <points> | EVAL <x> <points> | FORMAT <c0> <c1> ...", ErrSyntax)
	}
	rest := strings.TrimSpace(matches[2])

	switch strings.ToUpper(matches[1]) {
	case "FIT":
		points, err := ParsePoints(rest)
		if err != nil {
			return nil, err
		}
		return &Command{Kind: KindFit, Points: points}, nil

	case "EVAL":
		fields := strings.SplitN(rest, " ", 2)
		if fields[0] == "" {
			return nil, fmt.Errorf("%w: EVAL needs x", ErrSyntax)
		}
		x, err := parseFloat(fields[0])
		if err != nil {
			return nil, err
		}
		var points []common.Point
		if len(fields) == 2 {
			if points, err = ParsePoints(fields[1]); err != nil {
				return nil, err
			}
		}
		return &Command{Kind: KindEval, X: x, Points: points}, nil

	default:
		coeffs := []float64{}
		for _, f := range strings.Fields(strings.ReplaceAll(rest, ",", " ")) {
			v, err := parseFloat(f)
			if err != nil {
				return nil, err
			}
			coeffs = append(coeffs, v)
		}
		return &Command{Kind: KindFormat, Coefficients: coeffs}, nil
	}
}

// ParsePoints reads "(x, y)" pairs separated by spaces or commas.
func ParsePoints(s string) ([]common.Point, error) {
	if strings.TrimSpace(s) == "" {
		return []common.Point{}, nil
	}
	if !sepRe.MatchString(pointRe.ReplaceAllString(s, "")) {
		return nil, fmt.Errorf("%w: points must look like (x, y)", ErrSyntax)
	}

	found := pointRe.FindAllStringSubmatch(s, -1)
	points := make([]common.Point, 0, len(found))
	for _, m := range found {
		x, err := parseFloat(m[1])
		if err != nil {
			return nil, err
		}
		y, err := parseFloat(m[2])
		if err != nil {
			return nil, err
		}
		points = append(points, common.Point{X: x, Y: y})
	}
	return points, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", ErrSyntax, s)
	}
	return v, nil
}
