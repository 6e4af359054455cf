package pointset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"polyfit/pkg/common"
)

var (
	ErrNotArray     = errors.New("pointset: payload is not a JSON array")
	ErrInvalidPoint = errors.New("pointset: invalid point")
)

// Export writes the points as an indented JSON array of {"x","y"} objects.
func (s *Set) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	points := s.points
	if points == nil {
		points = []common.Point{}
	}
	return enc.Encode(points)
}

// Import replaces the contents with the array read from r. Nothing changes
// when the payload is rejected.
func (s *Set) Import(r io.Reader) error {
	points, err := Decode(r)
	if err != nil {
		return err
	}
	s.Replace(points)
	return nil
}

type wirePoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// Decode parses a JSON array of points. Every entry needs numeric x and y.
func Decode(r io.Reader) ([]common.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var raw []wirePoint
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}

	points := make([]common.Point, len(raw))
	for i, wp := range raw {
		if wp.X == nil || wp.Y == nil {
			return nil, fmt.Errorf("%w: entry %d: x and y are required", ErrInvalidPoint, i)
		}
		points[i] = common.Point{X: *wp.X, Y: *wp.Y}
	}
	return points, nil
}
