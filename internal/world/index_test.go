package world

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcworld/vcworld/internal/core/ecs"
	"github.com/vcworld/vcworld/internal/core/event"
	"github.com/vcworld/vcworld/internal/data"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(NewArena(nil), nil, nil)
}

func spawn(t *testing.T, idx *Index, x, y float32, stack bool) *Entity {
	t.Helper()
	e := idx.Arena().CreateWith(x, y, data.Attributes{})
	require.NoError(t, idx.Insert(e.ID(), stack))
	return e
}

func eachIDs(idx *Index) []ecs.EntityID {
	var out []ecs.EntityID
	idx.Each(func(e *Entity) bool {
		out = append(out, e.ID())
		return true
	})
	return out
}

func TestIndexInsertFreshCells(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0.5, 0.5, false)
	b := spawn(t, idx, 3.2, -1.7, false)

	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 2, idx.Cells())
	assert.True(t, a.IsHead())
	assert.Same(t, idx, b.Owner())
	assert.Equal(t, []ecs.EntityID{b.ID(), a.ID()}, eachIDs(idx), "fresh cells go to the front")
	require.NoError(t, idx.Validate())
}

func TestIndexInsertOccupiedWithoutStacking(t *testing.T) {
	idx := newTestIndex(t)
	spawn(t, idx, 1, 1, false)

	e := idx.Arena().CreateWith(1.9, 1.1, data.Attributes{})
	err := idx.Insert(e.ID(), false)
	assert.ErrorIs(t, err, ErrPositionOccupied)
	assert.False(t, e.Owned())
	assert.Equal(t, 1, idx.Count(), "failed insert leaves the count unchanged")
	require.NoError(t, idx.Validate())
}

func TestIndexInsertStacking(t *testing.T) {
	idx := newTestIndex(t)
	x := spawn(t, idx, 9, 9, false)
	a := spawn(t, idx, 1, 1, true)
	y := spawn(t, idx, -4, 0, false)
	b := spawn(t, idx, 1.5, 1.5, true)
	c := spawn(t, idx, 1.2, 1.8, true)

	assert.Equal(t, 5, idx.Count())
	assert.Equal(t, 3, idx.Cells())
	assert.True(t, c.IsHead())
	assert.False(t, b.IsHead())
	assert.False(t, a.IsHead())

	// The new head takes over the cell's position in the traversal list.
	assert.Equal(t, []ecs.EntityID{y.ID(), c.ID(), b.ID(), a.ID(), x.ID()}, eachIDs(idx))

	ids := idx.QueryPoint(1, 1).Collect()
	require.Len(t, ids, 3)
	assert.Equal(t, []*Entity{c, b, a}, ids, "point query walks newest first")
	require.NoError(t, idx.Validate())
}

func TestIndexInsertErrors(t *testing.T) {
	idx := newTestIndex(t)
	e := spawn(t, idx, 0, 0, false)

	assert.ErrorIs(t, idx.Insert(e.ID(), true), ErrAlreadyOwned)
	assert.ErrorIs(t, idx.Insert(0, true), ErrUnknownEntity)
	assert.ErrorIs(t, idx.Insert(ecs.NewEntityID(42, 0), true), ErrUnknownEntity)

	other := NewIndex(idx.Arena(), NewMapTree(0), nil)
	assert.ErrorIs(t, other.Insert(e.ID(), true), ErrAlreadyOwned, "an entity belongs to one index")

	foreign := NewArena(nil).CreateWith(0, 0, data.Attributes{})
	assert.ErrorIs(t, idx.InsertEntity(foreign, true), ErrUnknownEntity)
	assert.ErrorIs(t, idx.InsertEntity(nil, true), ErrUnknownEntity)
	assert.Equal(t, 1, idx.Count())
}

func TestIndexInsertTreeFull(t *testing.T) {
	idx := NewIndex(NewArena(nil), NewSkipTree(1), nil)
	spawn(t, idx, 0, 0, false)

	e := idx.Arena().CreateWith(5, 5, data.Attributes{})
	assert.ErrorIs(t, idx.Insert(e.ID(), false), ErrIndexFailure)
	assert.ErrorIs(t, idx.Insert(e.ID(), true), ErrIndexFailure)
	assert.False(t, e.Owned())

	// Stacking on an existing cell needs no new tree entry.
	spawn(t, idx, 0.5, 0.5, true)
	assert.Equal(t, 2, idx.Count())
	require.NoError(t, idx.Validate())
}

func TestIndexRemoveSoleOccupant(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0, 0, false)
	b := spawn(t, idx, 1, 0, false)
	c := spawn(t, idx, 2, 0, false)

	require.NoError(t, idx.Remove(b.ID()))
	assert.False(t, b.Owned())
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, 2, idx.Cells())
	assert.Equal(t, []ecs.EntityID{c.ID(), a.ID()}, eachIDs(idx))
	assert.NotNil(t, idx.Arena().Get(b.ID()), "removal keeps the entity alive")
	require.NoError(t, idx.Validate())

	require.NoError(t, idx.Remove(c.ID()))
	assert.Equal(t, []ecs.EntityID{a.ID()}, eachIDs(idx), "removing the list head")
	require.NoError(t, idx.Remove(a.ID()))
	assert.Empty(t, eachIDs(idx))
	assert.Zero(t, idx.Cells())
	require.NoError(t, idx.Validate())
}

func TestIndexRemoveHeadPromotesOlder(t *testing.T) {
	idx := newTestIndex(t)
	x := spawn(t, idx, 5, 5, false)
	a := spawn(t, idx, 0, 0, true)
	b := spawn(t, idx, 0, 0, true)
	y := spawn(t, idx, 7, 7, false)

	require.NoError(t, idx.Remove(b.ID()))
	assert.True(t, a.IsHead())
	assert.Equal(t, []ecs.EntityID{y.ID(), a.ID(), x.ID()}, eachIDs(idx))
	assert.Equal(t, []*Entity{a}, idx.QueryPoint(0, 0).Collect())
	require.NoError(t, idx.Validate())
}

func TestIndexRemoveBelowHead(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0, 0, true)
	b := spawn(t, idx, 0, 0, true)
	c := spawn(t, idx, 0, 0, true)

	require.NoError(t, idx.Remove(b.ID()))
	assert.Equal(t, []*Entity{c, a}, idx.QueryPoint(0, 0).Collect())
	require.NoError(t, idx.Validate())

	require.NoError(t, idx.Remove(a.ID()))
	assert.Equal(t, []*Entity{c}, idx.QueryPoint(0, 0).Collect())
	assert.Equal(t, 1, idx.Cells())
	require.NoError(t, idx.Validate())
}

func TestIndexRemoveErrors(t *testing.T) {
	idx := newTestIndex(t)
	e := idx.Arena().CreateWith(0, 0, data.Attributes{})

	assert.ErrorIs(t, idx.Remove(e.ID()), ErrNotOwned)
	assert.ErrorIs(t, idx.Remove(0), ErrUnknownEntity)
	assert.ErrorIs(t, idx.RemoveEntity(nil), ErrUnknownEntity)

	require.NoError(t, idx.Insert(e.ID(), false))
	other := NewIndex(idx.Arena(), nil, nil)
	assert.ErrorIs(t, other.Remove(e.ID()), ErrNotOwned)
}

func TestIndexReinsertAfterRemove(t *testing.T) {
	idx := newTestIndex(t)
	e := spawn(t, idx, 2, 2, false)
	require.NoError(t, idx.Remove(e.ID()))
	require.NoError(t, e.SetPosition(3, 3))
	require.NoError(t, idx.Insert(e.ID(), false))
	assert.Equal(t, []*Entity{e}, idx.QueryPoint(3.5, 3.5).Collect())
	assert.Empty(t, idx.QueryPoint(2, 2).Collect())
}

func TestIndexOwnedEntityRefusesDirectMoves(t *testing.T) {
	idx := newTestIndex(t)
	e := spawn(t, idx, 0, 0, false)
	assert.ErrorIs(t, e.SetPosition(4, 4), ErrAlreadyOwned)
	assert.ErrorIs(t, e.AddPosition(1, 1), ErrAlreadyOwned)
	assert.ErrorIs(t, idx.Arena().Release(e.ID()), ErrAlreadyOwned)
}

func TestIndexMove(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0.1, 0.1, true)
	b := spawn(t, idx, 0.2, 0.2, true)

	// Within the cell the stack order is kept.
	require.NoError(t, idx.Move(a.ID(), 0.5, 0.5, false))
	x, y := a.Position()
	assert.InDelta(t, 0.6, x, 1e-6)
	assert.InDelta(t, 0.6, y, 1e-6)
	assert.Equal(t, []*Entity{b, a}, idx.QueryPoint(0, 0).Collect())

	// Across cells the entity becomes the head of the target.
	c := spawn(t, idx, 3, 0, false)
	require.NoError(t, idx.Move(a.ID(), 3, 0, true))
	assert.Equal(t, []*Entity{a, c}, idx.QueryPoint(3, 0).Collect())
	assert.Equal(t, []*Entity{b}, idx.QueryPoint(0, 0).Collect())
	require.NoError(t, idx.Validate())
}

func TestIndexMoveBlocked(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0, 0, true)
	b := spawn(t, idx, 0, 0, true)
	spawn(t, idx, 1, 0, false)

	err := idx.Move(a.ID(), 1, 0, false)
	assert.ErrorIs(t, err, ErrPositionOccupied)
	x, y := a.Position()
	assert.Equal(t, float32(0), x)
	assert.Equal(t, float32(0), y)
	assert.True(t, a.Owned())
	assert.Equal(t, []*Entity{a, b}, idx.QueryPoint(0, 0).Collect(), "restored as the head")
	assert.Equal(t, 3, idx.Count())
	require.NoError(t, idx.Validate())

	assert.ErrorIs(t, idx.Move(0, 1, 1, true), ErrUnknownEntity)
	loose := idx.Arena().CreateWith(0, 0, data.Attributes{})
	assert.ErrorIs(t, idx.Move(loose.ID(), 1, 1, true), ErrNotOwned)
}

func TestIndexEachStops(t *testing.T) {
	idx := newTestIndex(t)
	for i := 0; i < 5; i++ {
		spawn(t, idx, float32(i), 0, false)
	}
	n := 0
	idx.Each(func(*Entity) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestIndexValidateDetectsCorruption(t *testing.T) {
	idx := newTestIndex(t)
	spawn(t, idx, 0, 0, false)
	e := spawn(t, idx, 1, 1, false)
	require.NoError(t, idx.Validate())

	idx.count++
	assert.ErrorIs(t, idx.Validate(), ErrInvariant)
	idx.count--

	idx.tree.Replace(e.Cell(), 0)
	assert.ErrorIs(t, idx.Validate(), ErrInvariant)
}

func TestIndexDestroy(t *testing.T) {
	idx := newTestIndex(t)
	arena := idx.Arena()
	var ids []ecs.EntityID
	for i := 0; i < 10; i++ {
		ids = append(ids, spawn(t, idx, float32(i%3), 0, true).ID())
	}
	loose := arena.CreateWith(0, 0, data.Attributes{})

	idx.Destroy()
	assert.Zero(t, idx.Count())
	assert.Zero(t, idx.Cells())
	for _, id := range ids {
		assert.Nil(t, arena.Get(id))
	}
	assert.Equal(t, 1, arena.Len(), "unindexed entities survive")
	assert.NotNil(t, arena.Get(loose.ID()))
	require.NoError(t, idx.Validate())
}

// TestIndexRandomOperations drives a random mix of inserts, removes and moves
// against a reference model and checks the index after every step.
func TestIndexRandomOperations(t *testing.T) {
	for name, mk := range treeKinds() {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			idx := NewIndex(NewArena(nil), mk(0), nil)
			model := make(map[Cell][]ecs.EntityID) // newest last
			var owned []ecs.EntityID

			removeFromModel := func(c Cell, id ecs.EntityID) {
				s := model[c]
				for i, v := range s {
					if v == id {
						model[c] = append(s[:i:i], s[i+1:]...)
						break
					}
				}
				if len(model[c]) == 0 {
					delete(model, c)
				}
			}

			for step := 0; step < 2000; step++ {
				switch op := rng.Intn(10); {
				case op < 5 || len(owned) == 0:
					x, y := float32(rng.Intn(12)-6), float32(rng.Intn(12)-6)
					stack := rng.Intn(2) == 0
					e := idx.Arena().CreateWith(x+0.25, y+0.25, data.Attributes{})
					err := idx.Insert(e.ID(), stack)
					c := e.Cell()
					if !stack && len(model[c]) > 0 {
						require.ErrorIs(t, err, ErrPositionOccupied)
						require.NoError(t, idx.Arena().Release(e.ID()))
						break
					}
					require.NoError(t, err)
					model[c] = append(model[c], e.ID())
					owned = append(owned, e.ID())
				case op < 8:
					i := rng.Intn(len(owned))
					id := owned[i]
					c := idx.Arena().Get(id).Cell()
					require.NoError(t, idx.Remove(id))
					removeFromModel(c, id)
					owned = append(owned[:i], owned[i+1:]...)
					require.NoError(t, idx.Arena().Release(id))
				default:
					id := owned[rng.Intn(len(owned))]
					e := idx.Arena().Get(id)
					from := e.Cell()
					dx, dy := float32(rng.Intn(3)-1), float32(rng.Intn(3)-1)
					if err := idx.Move(id, dx, dy, true); err != nil {
						t.Fatalf("step %d: move: %v", step, err)
					}
					if to := e.Cell(); to != from {
						removeFromModel(from, id)
						model[to] = append(model[to], id)
					}
				}
				require.NoError(t, idx.Validate(), "step %d", step)
			}

			assert.Equal(t, len(owned), idx.Count())
			assert.Equal(t, len(model), idx.Cells())
			for c, stack := range model {
				got := idx.QueryPoint(float32(c.X), float32(c.Y)).Collect()
				require.Len(t, got, len(stack))
				for i, e := range got {
					assert.Equal(t, stack[len(stack)-1-i], e.ID(), "cell %v position %d", c, i)
				}
			}
		})
	}
}

func TestIndexEmitsEvents(t *testing.T) {
	idx := newTestIndex(t)
	bus := event.NewBus()
	idx.SetEvents(bus)

	var indexed []event.EntityIndexed
	var removed []event.EntityRemoved
	var moved []event.EntityMoved
	event.Subscribe(bus, func(ev event.EntityIndexed) { indexed = append(indexed, ev) })
	event.Subscribe(bus, func(ev event.EntityRemoved) { removed = append(removed, ev) })
	event.Subscribe(bus, func(ev event.EntityMoved) { moved = append(moved, ev) })

	a := spawn(t, idx, 1, 1, true)
	b := spawn(t, idx, 1, 1, true)
	blocked := idx.Arena().CreateWith(1, 1, data.Attributes{})
	require.ErrorIs(t, idx.Insert(blocked.ID(), false), ErrPositionOccupied)
	require.NoError(t, idx.Move(a.ID(), 2, 0, true))
	require.NoError(t, idx.Remove(b.ID()))

	assert.Equal(t, 4, bus.Flush(), "failed operations emit nothing")
	require.Len(t, indexed, 2)
	assert.False(t, indexed[0].Stacked)
	assert.True(t, indexed[1].Stacked)
	assert.Equal(t, []event.EntityMoved{{EntityID: a.ID(), FromX: 1, FromY: 1, ToX: 3, ToY: 1}}, moved)
	assert.Equal(t, []event.EntityRemoved{{EntityID: b.ID(), X: 1, Y: 1}}, removed)

	idx.SetEvents(nil)
	spawn(t, idx, 5, 5, false)
	assert.Zero(t, bus.Pending())
}
