package pointset

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/btree"

	"polyfit/pkg/common"
)

var ErrIndexOutOfRange = errors.New("pointset: index out of range")

// xItem orders points by x, ties broken by insertion sequence.
type xItem struct {
	X   float64
	Seq uint64
}

func (i xItem) Less(than btree.Item) bool {
	o := than.(xItem)
	if i.X != o.X {
		return i.X < o.X
	}
	return i.Seq < o.Seq
}

// Collision is a pair of indices whose x values are closer than common.Epsilon.
type Collision struct {
	A int     `json:"a"`
	B int     `json:"b"`
	X float64 `json:"x"`
}

// Set is an insertion-ordered point collection with an x index.
// It is not safe for concurrent use; callers synchronize.
type Set struct {
	points []common.Point
	seqs   []uint64
	index  *btree.BTree
	next   uint64
}

func New(points ...common.Point) *Set {
	s := &Set{index: btree.New(16)}
	for _, p := range points {
		s.Add(p)
	}
	return s
}

// Add appends p and returns its index. Duplicate x values are accepted; the
// interpolator is the one that rejects them.
func (s *Set) Add(p common.Point) int {
	seq := s.next
	s.next++
	s.points = append(s.points, p)
	s.seqs = append(s.seqs, seq)
	s.index.ReplaceOrInsert(xItem{X: p.X, Seq: seq})
	return len(s.points) - 1
}

func (s *Set) Remove(index int) (common.Point, error) {
	if index < 0 || index >= len(s.points) {
		return common.Point{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(s.points))
	}
	p := s.points[index]
	s.index.Delete(xItem{X: p.X, Seq: s.seqs[index]})
	s.points = append(s.points[:index], s.points[index+1:]...)
	s.seqs = append(s.seqs[:index], s.seqs[index+1:]...)
	return p, nil
}

// Replace drops the current contents and loads points in order.
func (s *Set) Replace(points []common.Point) {
	s.points = s.points[:0]
	s.seqs = s.seqs[:0]
	s.index.Clear(false)
	for _, p := range points {
		s.Add(p)
	}
}

func (s *Set) Len() int {
	return len(s.points)
}

// Points returns a copy in insertion order.
func (s *Set) Points() []common.Point {
	out := make([]common.Point, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Set) Clone() *Set {
	return New(s.points...)
}

// HasX reports whether some point lies within common.Epsilon of x.
func (s *Set) HasX(x float64) bool {
	found := false
	s.index.AscendGreaterOrEqual(xItem{X: x - common.Epsilon}, func(i btree.Item) bool {
		ix := i.(xItem).X
		if math.Abs(ix-x) < common.Epsilon {
			found = true
			return false
		}
		return ix < x+common.Epsilon
	})
	return found
}

// Duplicates lists neighbouring points, in x order, that the interpolator
// would reject as coincident.
func (s *Set) Duplicates() []Collision {
	pos := make(map[uint64]int, len(s.seqs))
	for i, seq := range s.seqs {
		pos[seq] = i
	}

	var out []Collision
	var prev *xItem
	s.index.Ascend(func(i btree.Item) bool {
		cur := i.(xItem)
		if prev != nil && cur.X-prev.X < common.Epsilon {
			a, b := pos[prev.Seq], pos[cur.Seq]
			if a > b {
				a, b = b, a
			}
			out = append(out, Collision{A: a, B: b, X: cur.X})
		}
		prev = &cur
		return true
	})
	return out
}

// Bounds returns the smallest and largest x, ok=false when empty.
func (s *Set) Bounds() (lo, hi float64, ok bool) {
	if s.index.Len() == 0 {
		return 0, 0, false
	}
	return s.index.Min().(xItem).X, s.index.Max().(xItem).X, true
}
