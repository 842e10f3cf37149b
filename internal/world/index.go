package world

import (
	"fmt"

	"github.com/vcworld/vcworld/internal/core/ecs"
	"github.com/vcworld/vcworld/internal/core/event"
	"go.uber.org/zap"
)

// Index is the spatial occupancy index. It keeps three views consistent:
//   - the cell tree, one entry per occupied cell pointing at the cell head;
//   - the traversal list, a doubly linked list of cell heads;
//   - the per-cell stacks, each head chaining to older occupants.
//
// Accessed only from the owning goroutine, no locks.
type Index struct {
	arena  *Arena
	tree   CellTree
	head   ecs.EntityID
	count  int
	log    *zap.Logger
	events *event.Bus
}

// NewIndex creates an empty index over arena. A nil tree means an unbounded
// SkipTree, a nil logger means no logging.
func NewIndex(arena *Arena, tree CellTree, log *zap.Logger) *Index {
	if tree == nil {
		tree = NewSkipTree(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{arena: arena, tree: tree, log: log}
}

func (idx *Index) Arena() *Arena { return idx.arena }

// SetEvents attaches a bus that receives EntityIndexed, EntityRemoved and
// EntityMoved for every successful public mutation. nil detaches it.
func (idx *Index) SetEvents(b *event.Bus) { idx.events = b }

// Count returns the number of indexed entities (not cells).
func (idx *Index) Count() int { return idx.count }

// Cells returns the number of occupied cells.
func (idx *Index) Cells() int { return idx.tree.Len() }

// Contains reports whether id is owned by this index.
func (idx *Index) Contains(id ecs.EntityID) bool {
	e := idx.arena.Get(id)
	return e != nil && e.owner == idx
}

func (idx *Index) get(id ecs.EntityID) *Entity {
	return idx.arena.Get(id)
}

// Insert adds the entity to its cell. With allowStacking the entity becomes
// the new head of an occupied cell; without it an occupied cell fails with
// ErrPositionOccupied and the entity stays unowned.
func (idx *Index) Insert(id ecs.EntityID, allowStacking bool) error {
	e := idx.get(id)
	if e == nil {
		return ErrUnknownEntity
	}
	return idx.emitInsert(e, allowStacking)
}

// InsertEntity is Insert for an entity already resolved from the arena.
func (idx *Index) InsertEntity(e *Entity, allowStacking bool) error {
	if e == nil || idx.get(e.id) != e {
		return ErrUnknownEntity
	}
	return idx.emitInsert(e, allowStacking)
}

func (idx *Index) emitInsert(e *Entity, allowStacking bool) error {
	if err := idx.insert(e, allowStacking); err != nil {
		return err
	}
	c := e.Cell()
	event.Emit(idx.events, event.EntityIndexed{EntityID: e.id, X: c.X, Y: c.Y, Stacked: e.older != 0})
	return nil
}

func (idx *Index) insert(e *Entity, allowStacking bool) error {
	if e.owner != nil {
		return ErrAlreadyOwned
	}
	key := e.Cell()

	if !allowStacking {
		switch res := idx.tree.InsertAbsent(key, e.id); res {
		case 0:
			return fmt.Errorf("insert at %d,%d: %w", key.X, key.Y, ErrIndexFailure)
		case e.id:
			idx.pushFront(e)
		default:
			return ErrPositionOccupied
		}
	} else {
		switch res := idx.tree.Replace(key, e.id); res {
		case 0:
			return fmt.Errorf("insert at %d,%d: %w", key.X, key.Y, ErrIndexFailure)
		case e.id:
			idx.pushFront(e)
		default:
			prev := idx.get(res)
			if prev == nil || prev.owner != idx {
				idx.tree.Replace(key, res)
				return fmt.Errorf("%w: cell %d,%d holds stale entity %d", ErrInvariant, key.X, key.Y, res)
			}
			idx.stackOnto(e, prev)
		}
	}

	e.owner = idx
	idx.count++
	return nil
}

// pushFront makes e a single-entity cell at the front of the traversal list.
func (idx *Index) pushFront(e *Entity) {
	e.prev = 0
	e.next = idx.head
	if first := idx.get(idx.head); first != nil {
		first.prev = e.id
	}
	idx.head = e.id
}

// stackOnto puts e above prev: e inherits prev's traversal-list node and
// prev becomes the next-older entity of the cell.
func (idx *Index) stackOnto(e, prev *Entity) {
	idx.takeNode(e, prev)
	e.older = prev.id
	prev.newer = e.id
}

// takeNode moves the traversal-list node held by from over to to.
func (idx *Index) takeNode(to, from *Entity) {
	to.prev = from.prev
	to.next = from.next
	if p := idx.get(to.prev); p != nil {
		p.next = to.id
	} else {
		idx.head = to.id
	}
	if n := idx.get(to.next); n != nil {
		n.prev = to.id
	}
	from.prev = 0
	from.next = 0
}

// unlinkNode drops e's node from the traversal list.
func (idx *Index) unlinkNode(e *Entity) {
	if p := idx.get(e.prev); p != nil {
		p.next = e.next
	} else {
		idx.head = e.next
	}
	if n := idx.get(e.next); n != nil {
		n.prev = e.prev
	}
}

// Remove takes the entity out of the index. It stays alive in the arena.
func (idx *Index) Remove(id ecs.EntityID) error {
	e := idx.get(id)
	if e == nil {
		return ErrUnknownEntity
	}
	return idx.emitRemove(e)
}

// RemoveEntity is Remove for an entity already resolved from the arena.
func (idx *Index) RemoveEntity(e *Entity) error {
	if e == nil {
		return ErrUnknownEntity
	}
	return idx.emitRemove(e)
}

func (idx *Index) emitRemove(e *Entity) error {
	if err := idx.remove(e); err != nil {
		return err
	}
	c := e.Cell()
	event.Emit(idx.events, event.EntityRemoved{EntityID: e.id, X: c.X, Y: c.Y})
	return nil
}

func (idx *Index) remove(e *Entity) error {
	if e.owner != idx {
		return ErrNotOwned
	}
	key := e.Cell()

	switch {
	case e.newer != 0:
		// Below the head: only the cell stack changes.
		newer := idx.get(e.newer)
		newer.older = e.older
		if older := idx.get(e.older); older != nil {
			older.newer = e.newer
		}
	case e.older != 0:
		// Head with older occupants: promote the next one.
		older := idx.get(e.older)
		if idx.tree.Replace(key, older.id) == 0 {
			return fmt.Errorf("remove at %d,%d: %w", key.X, key.Y, ErrIndexFailure)
		}
		idx.takeNode(older, e)
		older.newer = 0
	default:
		if !idx.tree.Remove(key) {
			return fmt.Errorf("remove at %d,%d: %w", key.X, key.Y, ErrIndexFailure)
		}
		idx.unlinkNode(e)
	}

	e.unlink()
	idx.count--
	return nil
}

// Move shifts an indexed entity by (dx, dy). Crossing into another cell
// reinserts it there as the new head; if that fails the entity goes back to
// its old position as the head of that cell and the error is returned.
func (idx *Index) Move(id ecs.EntityID, dx, dy float32, allowStacking bool) error {
	e := idx.get(id)
	if e == nil {
		return ErrUnknownEntity
	}
	if e.owner != idx {
		return ErrNotOwned
	}
	from := e.Cell()
	if from == CellAt(e.x+dx, e.y+dy) {
		// Same cell: the stack position is kept.
		e.x += dx
		e.y += dy
		event.Emit(idx.events, event.EntityMoved{EntityID: id, FromX: from.X, FromY: from.Y, ToX: from.X, ToY: from.Y})
		return nil
	}

	if err := idx.remove(e); err != nil {
		return err
	}
	oldX, oldY := e.x, e.y
	e.x += dx
	e.y += dy
	err := idx.insert(e, allowStacking)
	if err == nil {
		to := e.Cell()
		event.Emit(idx.events, event.EntityMoved{EntityID: id, FromX: from.X, FromY: from.Y, ToX: to.X, ToY: to.Y})
		return nil
	}
	e.x, e.y = oldX, oldY
	if rerr := idx.insert(e, true); rerr != nil {
		idx.log.Warn("entity dropped from index after failed move",
			zap.Uint64("entity", uint64(e.id)), zap.Error(rerr))
		return fmt.Errorf("move: %w (restore: %v)", err, rerr)
	}
	return err
}

// Each visits every indexed entity in traversal-list order, each cell head
// followed by its older occupants. fn returning false stops the walk.
// fn must not mutate the index.
func (idx *Index) Each(fn func(*Entity) bool) {
	for h := idx.get(idx.head); h != nil; h = idx.get(h.next) {
		for e := h; e != nil; e = idx.get(e.older) {
			if !fn(e) {
				return
			}
		}
	}
}

// Records returns every indexed entity as a plain record, in Each order.
func (idx *Index) Records() []Record {
	out := make([]Record, 0, idx.count)
	idx.Each(func(e *Entity) bool {
		out = append(out, Record{X: e.x, Y: e.y, Attrs: e.attrs})
		return true
	})
	return out
}

// Validate checks that the cell tree, the traversal list and the cell stacks
// agree with each other and with the entity count.
func (idx *Index) Validate() error {
	seen := make(map[Cell]struct{}, idx.tree.Len())
	total := 0
	var prev ecs.EntityID

	for h := idx.get(idx.head); h != nil; h = idx.get(h.next) {
		key := h.Cell()
		switch {
		case h.owner != idx:
			return fmt.Errorf("%w: head %s not owned", ErrInvariant, h)
		case h.newer != 0:
			return fmt.Errorf("%w: head %s has a newer entity", ErrInvariant, h)
		case h.prev != prev:
			return fmt.Errorf("%w: head %s has broken prev link", ErrInvariant, h)
		case idx.tree.Search(key) != h.id:
			return fmt.Errorf("%w: tree entry for %d,%d is not %s", ErrInvariant, key.X, key.Y, h)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: cell %d,%d listed twice", ErrInvariant, key.X, key.Y)
		}
		seen[key] = struct{}{}

		above := h
		for e := h; e != nil; e = idx.get(e.older) {
			total++
			if total > idx.count {
				return fmt.Errorf("%w: more entities reachable than counted (%d)", ErrInvariant, idx.count)
			}
			if e == h {
				continue
			}
			switch {
			case e.owner != idx:
				return fmt.Errorf("%w: stacked %s not owned", ErrInvariant, e)
			case e.Cell() != key:
				return fmt.Errorf("%w: stacked %s outside cell %d,%d", ErrInvariant, e, key.X, key.Y)
			case e.newer != above.id:
				return fmt.Errorf("%w: stacked %s has broken newer link", ErrInvariant, e)
			case e.prev != 0 || e.next != 0:
				return fmt.Errorf("%w: stacked %s is linked in the traversal list", ErrInvariant, e)
			}
			above = e
		}
		prev = h.id
	}

	if total != idx.count {
		return fmt.Errorf("%w: reachable %d, counted %d", ErrInvariant, total, idx.count)
	}
	if len(seen) != idx.tree.Len() {
		return fmt.Errorf("%w: %d listed cells, %d tree entries", ErrInvariant, len(seen), idx.tree.Len())
	}
	return nil
}

// Destroy removes and releases every indexed entity and frees the tree.
func (idx *Index) Destroy() {
	ids := make([]ecs.EntityID, 0, idx.count)
	idx.Each(func(e *Entity) bool {
		ids = append(ids, e.id)
		return true
	})
	for _, id := range ids {
		if e := idx.get(id); e != nil {
			e.unlink()
			_ = idx.arena.Release(id)
		}
	}
	idx.tree.Free()
	idx.head = 0
	idx.count = 0
	idx.log.Debug("index destroyed", zap.Int("released", len(ids)))
}
