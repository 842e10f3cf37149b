package world

import (
	"math"

	"github.com/INLOpen/skiplist"
	"github.com/vcworld/vcworld/internal/core/ecs"
)

// SkipTree is a CellTree over an ordered skiplist keyed by (X, Y).
// Rectangle scans seek row by row, so a range touches only the rows it
// covers.
type SkipTree struct {
	list     *skiplist.SkipList[Cell, ecs.EntityID]
	maxCells int
}

func NewSkipTree(maxCells int) *SkipTree {
	return &SkipTree{
		list:     skiplist.NewWithComparator[Cell, ecs.EntityID](compareCells),
		maxCells: maxCells,
	}
}

func (t *SkipTree) full() bool {
	return t.maxCells > 0 && t.list.Len() >= t.maxCells
}

func (t *SkipTree) Search(c Cell) ecs.EntityID {
	node, ok := t.list.Search(c)
	if !ok {
		return 0
	}
	return node.Value()
}

func (t *SkipTree) InsertAbsent(c Cell, id ecs.EntityID) ecs.EntityID {
	if cur := t.Search(c); cur != 0 {
		return cur
	}
	if t.full() {
		return 0
	}
	t.list.Insert(c, id)
	return id
}

func (t *SkipTree) Replace(c Cell, id ecs.EntityID) ecs.EntityID {
	cur := t.Search(c)
	if cur == 0 {
		if t.full() {
			return 0
		}
		cur = id
	}
	t.list.Insert(c, id)
	return cur
}

func (t *SkipTree) Remove(c Cell) bool {
	return t.list.Delete(c)
}

func (t *SkipTree) RangeRadius(center Cell, r float64) []ecs.EntityID {
	lo, hi, ok := radiusBounds(center, r)
	if !ok {
		return nil
	}
	return t.scan(lo, hi, func(c Cell) bool { return withinRadius(center, c, r) })
}

func (t *SkipTree) RangeRect(origin Cell, w, h int32) []ecs.EntityID {
	if w <= 0 || h <= 0 {
		return nil
	}
	return t.scan(origin, Cell{X: rectLast(origin.X, w), Y: rectLast(origin.Y, h)}, nil)
}

// scan walks the inclusive box [lo, hi], seeking past the parts of each row
// that fall outside it. match, when set, filters the hits.
func (t *SkipTree) scan(lo, hi Cell, match func(Cell) bool) []ecs.EntityID {
	var out []ecs.EntityID

	it := t.list.NewIterator()
	if !it.Seek(lo) {
		return nil
	}
	for {
		c := it.Key()
		if c.X > hi.X {
			break
		}
		if c.Y < lo.Y {
			if !it.Seek(Cell{X: c.X, Y: lo.Y}) {
				break
			}
			continue
		}
		if c.Y > hi.Y {
			if c.X == math.MaxInt32 || !it.Seek(Cell{X: c.X + 1, Y: lo.Y}) {
				break
			}
			continue
		}
		if match == nil || match(c) {
			out = append(out, it.Value())
		}
		if !it.Next() {
			break
		}
	}
	return out
}

func (t *SkipTree) Len() int {
	return t.list.Len()
}

func (t *SkipTree) Free() {
	t.list.Clear()
}
