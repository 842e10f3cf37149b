package world

import (
	"slices"

	"github.com/vcworld/vcworld/internal/core/ecs"
)

// MapTree is the map-backed reference CellTree. Lookups are O(1); ranges
// scan every occupied cell and sort the hits.
type MapTree struct {
	cells    map[Cell]ecs.EntityID
	maxCells int
}

func NewMapTree(maxCells int) *MapTree {
	return &MapTree{
		cells:    make(map[Cell]ecs.EntityID),
		maxCells: maxCells,
	}
}

func (t *MapTree) full() bool {
	return t.maxCells > 0 && len(t.cells) >= t.maxCells
}

func (t *MapTree) Search(c Cell) ecs.EntityID {
	return t.cells[c]
}

func (t *MapTree) InsertAbsent(c Cell, id ecs.EntityID) ecs.EntityID {
	if cur, ok := t.cells[c]; ok {
		return cur
	}
	if t.full() {
		return 0
	}
	t.cells[c] = id
	return id
}

func (t *MapTree) Replace(c Cell, id ecs.EntityID) ecs.EntityID {
	prev, ok := t.cells[c]
	if !ok {
		if t.full() {
			return 0
		}
		prev = id
	}
	t.cells[c] = id
	return prev
}

func (t *MapTree) Remove(c Cell) bool {
	if _, ok := t.cells[c]; !ok {
		return false
	}
	delete(t.cells, c)
	return true
}

func (t *MapTree) RangeRadius(center Cell, r float64) []ecs.EntityID {
	if !(r >= 0) {
		return nil
	}
	return t.collect(func(c Cell) bool { return withinRadius(center, c, r) })
}

func (t *MapTree) RangeRect(origin Cell, w, h int32) []ecs.EntityID {
	if w <= 0 || h <= 0 {
		return nil
	}
	lastX, lastY := rectLast(origin.X, w), rectLast(origin.Y, h)
	return t.collect(func(c Cell) bool {
		return c.X >= origin.X && c.X <= lastX && c.Y >= origin.Y && c.Y <= lastY
	})
}

func (t *MapTree) collect(match func(Cell) bool) []ecs.EntityID {
	var hits []Cell
	for c := range t.cells {
		if match(c) {
			hits = append(hits, c)
		}
	}
	slices.SortFunc(hits, compareCells)
	out := make([]ecs.EntityID, len(hits))
	for i, c := range hits {
		out[i] = t.cells[c]
	}
	return out
}

func (t *MapTree) Len() int {
	return len(t.cells)
}

func (t *MapTree) Free() {
	clear(t.cells)
}
