package world

import (
	"fmt"
	"math"

	"github.com/vcworld/vcworld/internal/core/ecs"
	"github.com/vcworld/vcworld/internal/data"
)

// Cell is an integer grid coordinate, the key of the cell tree.
type Cell struct {
	X int32
	Y int32
}

// CellAt returns the cell containing the world position (x, y).
func CellAt(x, y float32) Cell {
	return Cell{
		X: int32(math.Floor(float64(x))),
		Y: int32(math.Floor(float64(y))),
	}
}

// Entity is a positioned record with a fixed attribute vector.
//
// Structural links are entity ids, zero meaning none:
//   - older/newer chain the entities sharing one cell, newest first.
//   - prev/next chain the cell heads in the index traversal list.
//
// All four links are zero while the entity is not owned by an index.
type Entity struct {
	id    ecs.EntityID
	x     float32
	y     float32
	attrs data.Attributes
	owner *Index

	older ecs.EntityID
	newer ecs.EntityID
	prev  ecs.EntityID
	next  ecs.EntityID
}

func (e *Entity) ID() ecs.EntityID { return e.id }

// Position returns the world position.
func (e *Entity) Position() (x, y float32) { return e.x, e.y }

// Center returns the centre of the unit square anchored at the position.
func (e *Entity) Center() (x, y float32) { return e.x + 0.5, e.y + 0.5 }

// Cell returns the grid cell the entity occupies.
func (e *Entity) Cell() Cell { return CellAt(e.x, e.y) }

func (e *Entity) Attr(a data.Attribute) int32 { return e.attrs[a] }

func (e *Entity) SetAttr(a data.Attribute, v int32) { e.attrs[a] = v }

func (e *Entity) Attrs() data.Attributes { return e.attrs }

func (e *Entity) Owner() *Index { return e.owner }

func (e *Entity) Owned() bool { return e.owner != nil }

// IsHead reports whether the entity is the newest occupant of its cell.
func (e *Entity) IsHead() bool { return e.owner != nil && e.newer == 0 }

// SetPosition moves an unowned entity. Indexed entities must go through
// Index.Move so the cell tree stays consistent.
func (e *Entity) SetPosition(x, y float32) error {
	if e.owner != nil {
		return ErrAlreadyOwned
	}
	e.x, e.y = x, y
	return nil
}

// AddPosition shifts an unowned entity by (dx, dy).
func (e *Entity) AddPosition(dx, dy float32) error {
	if e.owner != nil {
		return ErrAlreadyOwned
	}
	e.x += dx
	e.y += dy
	return nil
}

func (e *Entity) String() string {
	return fmt.Sprintf("entity(%d/%d @ %.2f,%.2f)", e.id.Index(), e.id.Generation(), e.x, e.y)
}

func (e *Entity) unlink() {
	e.owner = nil
	e.older = 0
	e.newer = 0
	e.prev = 0
	e.next = 0
}

// Arena allocates entities and resolves ids to them. Ids are generational,
// a released id never resolves again.
// Accessed only from the owning goroutine, no locks.
type Arena struct {
	pool     *ecs.EntityPool
	entities *ecs.PtrComponentStore[Entity]
	table    *data.ArchetypeTable
}

// NewArena creates an empty arena. A nil table means the builtin defaults.
func NewArena(table *data.ArchetypeTable) *Arena {
	if table == nil {
		table = data.DefaultArchetypes()
	}
	return &Arena{
		pool:     ecs.NewEntityPool(),
		entities: ecs.NewPtrComponentStore[Entity](),
		table:    table,
	}
}

func (a *Arena) Table() *data.ArchetypeTable { return a.table }

// Create allocates an entity at (x, y) with the archetype's default attributes.
func (a *Arena) Create(x, y float32, def data.Archetype) (*Entity, error) {
	attrs, ok := a.table.Defaults(def)
	if !ok {
		return nil, fmt.Errorf("create entity %s: %w", def, data.ErrUnknownArchetype)
	}
	return a.CreateWith(x, y, attrs), nil
}

// CreateWith allocates an entity at (x, y) with an explicit attribute vector.
func (a *Arena) CreateWith(x, y float32, attrs data.Attributes) *Entity {
	e := &Entity{
		id:    a.pool.Create(),
		x:     x,
		y:     y,
		attrs: attrs,
	}
	a.entities.Set(e.id, e)
	return e
}

// Get resolves an id; nil when it was never allocated or has been released.
func (a *Arena) Get(id ecs.EntityID) *Entity {
	e, _ := a.entities.Get(id)
	return e
}

// Release destroys an unowned entity.
func (a *Arena) Release(id ecs.EntityID) error {
	e := a.Get(id)
	if e == nil {
		return ErrUnknownEntity
	}
	if e.owner != nil {
		return ErrAlreadyOwned
	}
	a.entities.Remove(id)
	a.pool.Destroy(id)
	return nil
}

// Len returns the number of live entities, indexed or not.
func (a *Arena) Len() int {
	return a.entities.Len()
}
