package world

import (
	"fmt"
	"math"

	"github.com/vcworld/vcworld/internal/core/ecs"
)

// CellTree maps a cell to the id of the entity heading it. The zero id means
// "none" both as a stored value and as a result.
//
// Implementations enumerate ranges in ascending (X, Y) order.
type CellTree interface {
	// Search returns the occupant of c.
	Search(c Cell) ecs.EntityID
	// InsertAbsent stores id only if c is free and returns the occupant after
	// the call: id on success, the previous occupant on conflict, zero when
	// the tree is out of capacity.
	InsertAbsent(c Cell, id ecs.EntityID) ecs.EntityID
	// Replace stores id unconditionally and returns the previous occupant, or
	// id itself when c was free, or zero when the tree is out of capacity.
	Replace(c Cell, id ecs.EntityID) ecs.EntityID
	// Remove deletes the entry at c, reporting whether one existed.
	Remove(c Cell) bool
	// RangeRadius returns the occupants of every cell within Euclidean
	// distance r of center.
	RangeRadius(center Cell, r float64) []ecs.EntityID
	// RangeRect returns the occupants of every cell in [x, x+w) × [y, y+h).
	RangeRect(origin Cell, w, h int32) []ecs.EntityID
	// Len returns the number of occupied cells.
	Len() int
	// Free drops every entry. Entities are not touched.
	Free()
}

const (
	TreeSkipList = "skiplist"
	TreeMap      = "map"
)

// NewTree builds a cell tree by kind. maxCells bounds the number of occupied
// cells, 0 means unbounded.
func NewTree(kind string, maxCells int) (CellTree, error) {
	if maxCells < 0 {
		return nil, fmt.Errorf("cell tree: negative capacity %d", maxCells)
	}
	switch kind {
	case "", TreeSkipList:
		return NewSkipTree(maxCells), nil
	case TreeMap:
		return NewMapTree(maxCells), nil
	default:
		return nil, fmt.Errorf("cell tree: unknown kind %q", kind)
	}
}

func compareCells(a, b Cell) int {
	switch {
	case a.X < b.X:
		return -1
	case a.X > b.X:
		return 1
	case a.Y < b.Y:
		return -1
	case a.Y > b.Y:
		return 1
	}
	return 0
}

// maxReach is wider than any int32 span, so a larger radius covers every cell.
const maxReach = 1 << 33

// radiusBounds returns the inclusive square of cells enclosing a circle of
// radius r. ok is false for a negative or NaN radius.
func radiusBounds(center Cell, r float64) (lo, hi Cell, ok bool) {
	if !(r >= 0) {
		return Cell{}, Cell{}, false
	}
	reach := int64(maxReach)
	if r < maxReach {
		reach = int64(math.Floor(r))
	}
	lo = Cell{X: clampInt32(int64(center.X) - reach), Y: clampInt32(int64(center.Y) - reach)}
	hi = Cell{X: clampInt32(int64(center.X) + reach), Y: clampInt32(int64(center.Y) + reach)}
	return lo, hi, true
}

func withinRadius(center, c Cell, r float64) bool {
	dx := float64(c.X) - float64(center.X)
	dy := float64(c.Y) - float64(center.Y)
	return dx*dx+dy*dy <= r*r
}

// rectLast returns the inclusive bound origin+extent-1, clamped to int32.
// extent must be positive.
func rectLast(origin, extent int32) int32 {
	return clampInt32(int64(origin) + int64(extent) - 1)
}

func clampInt32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
