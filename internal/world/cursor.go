package world

import (
	"iter"

	"github.com/vcworld/vcworld/internal/core/ecs"
)

// Cursor lazily enumerates the entities matched by a query. The set of
// cells is fixed when the query is issued; the stack inside each cell is
// walked live, newest first. A cursor holds no lock on the index.
type Cursor struct {
	idx     *Index
	cells   []ecs.EntityID
	pos     int
	current ecs.EntityID
	matched int
}

func newCursor(idx *Index, cells []ecs.EntityID) *Cursor {
	c := &Cursor{idx: idx, cells: cells, matched: len(cells)}
	c.nextCell()
	return c
}

// QueryPoint returns a cursor over the stack of the cell containing (x, y).
func (idx *Index) QueryPoint(x, y float32) *Cursor {
	c := &Cursor{idx: idx, current: idx.tree.Search(CellAt(x, y))}
	if c.current != 0 {
		c.matched = 1
	}
	return c
}

// QueryRadius returns a cursor over every cell within distance r of the cell
// containing (cx, cy). r = 0 matches that single cell.
func (idx *Index) QueryRadius(cx, cy, r float32) *Cursor {
	return newCursor(idx, idx.tree.RangeRadius(CellAt(cx, cy), float64(r)))
}

// QueryDim returns a cursor over the cells of the half-open rectangle
// [x, x+w) × [y, y+h), anchored at the cell containing (x, y).
func (idx *Index) QueryDim(x, y float32, w, h int32) *Cursor {
	return newCursor(idx, idx.tree.RangeRect(CellAt(x, y), w, h))
}

// Poll returns the next entity, or nil once the cursor is exhausted.
// Entities released or removed from the index while the cursor is live end
// their cell's walk early.
func (c *Cursor) Poll() *Entity {
	for c.current != 0 {
		e := c.idx.arena.Get(c.current)
		if e == nil || e.owner != c.idx {
			c.nextCell()
			continue
		}
		if e.older != 0 {
			c.current = e.older
		} else {
			c.nextCell()
		}
		return e
	}
	return nil
}

func (c *Cursor) nextCell() {
	if c.pos < len(c.cells) {
		c.current = c.cells[c.pos]
		c.pos++
		return
	}
	c.current = 0
	c.cells = nil
	c.pos = 0
}

// All adapts the cursor to a range-over-func loop. It drains the cursor.
func (c *Cursor) All() iter.Seq[*Entity] {
	return func(yield func(*Entity) bool) {
		for e := c.Poll(); e != nil; e = c.Poll() {
			if !yield(e) {
				return
			}
		}
	}
}

// Collect drains the cursor into a slice.
func (c *Cursor) Collect() []*Entity {
	var out []*Entity
	for e := range c.All() {
		out = append(out, e)
	}
	return out
}

// Done reports whether the cursor is exhausted.
func (c *Cursor) Done() bool {
	return c.current == 0
}

// Len returns the number of occupied cells the query matched. It does not
// change as the cursor is drained.
func (c *Cursor) Len() int {
	return c.matched
}
