package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryPointEmpty(t *testing.T) {
	idx := newTestIndex(t)
	c := idx.QueryPoint(4, 4)
	assert.True(t, c.Done())
	assert.Nil(t, c.Poll())
	assert.Nil(t, c.Poll(), "exhausted cursors stay exhausted")
}

func TestQueryPointNegativeCoordinates(t *testing.T) {
	idx := newTestIndex(t)
	e := spawn(t, idx, -0.5, -0.5, false)
	assert.Equal(t, []*Entity{e}, idx.QueryPoint(-0.1, -0.9).Collect())
	assert.Empty(t, idx.QueryPoint(0, 0).Collect())
}

func TestQueryDim(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0, 0, true)
	b := spawn(t, idx, 0, 0, true)
	c := spawn(t, idx, 1, 2, false)
	spawn(t, idx, 2, 0, false)  // outside the width
	spawn(t, idx, 0, 3, false)  // outside the height
	spawn(t, idx, -1, 0, false) // before the origin

	got := idx.QueryDim(0, 0, 2, 3).Collect()
	assert.Equal(t, []*Entity{b, a, c}, got, "cells in (X, Y) order, stacks newest first")

	assert.Empty(t, idx.QueryDim(0, 0, 0, 5).Collect())
	assert.Empty(t, idx.QueryDim(0, 0, 5, -2).Collect())
}

func TestQueryRadius(t *testing.T) {
	idx := newTestIndex(t)
	center := spawn(t, idx, 5, 5, false)
	n := spawn(t, idx, 5, 6, false)
	s := spawn(t, idx, 5, 4, false)
	diag := spawn(t, idx, 6, 6, false)
	far := spawn(t, idx, 7, 5, false)

	assert.Equal(t, []*Entity{center}, idx.QueryRadius(5.7, 5.7, 0).Collect())
	assert.Equal(t, []*Entity{s, center, n}, idx.QueryRadius(5, 5, 1).Collect())
	assert.ElementsMatch(t, []*Entity{s, center, n, diag}, idx.QueryRadius(5, 5, 1.5).Collect())
	assert.Contains(t, idx.QueryRadius(5, 5, 2).Collect(), far)
	assert.Empty(t, idx.QueryRadius(5, 5, -1).Collect())
}

func TestCursorToleratesRemoval(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0, 0, true)
	b := spawn(t, idx, 0, 0, true)
	c := spawn(t, idx, 1, 0, false)

	cur := idx.QueryDim(0, 0, 2, 1)
	require.Same(t, b, cur.Poll())

	// a is next in the stack; removing it ends that cell's walk.
	require.NoError(t, idx.Remove(a.ID()))
	require.NoError(t, idx.Arena().Release(a.ID()))
	assert.Same(t, c, cur.Poll())
	assert.Nil(t, cur.Poll())
	assert.True(t, cur.Done())
}

func TestCursorSkipsReleasedHeads(t *testing.T) {
	idx := newTestIndex(t)
	a := spawn(t, idx, 0, 0, false)
	b := spawn(t, idx, 1, 0, false)

	cur := idx.QueryDim(0, 0, 2, 1)
	require.NoError(t, idx.Remove(a.ID()))
	assert.Equal(t, []*Entity{b}, cur.Collect())
}

func TestCursorAllStopsEarly(t *testing.T) {
	idx := newTestIndex(t)
	for i := 0; i < 4; i++ {
		spawn(t, idx, float32(i), 0, false)
	}
	cur := idx.QueryDim(0, 0, 4, 1)
	for e := range cur.All() {
		x, _ := e.Position()
		assert.Zero(t, x)
		break
	}
	assert.Len(t, cur.Collect(), 3, "the cursor resumes after an early break")
}

func TestCursorLen(t *testing.T) {
	idx := newTestIndex(t)
	spawn(t, idx, 0, 0, true)
	spawn(t, idx, 0, 0, true)
	spawn(t, idx, 1, 0, false)

	assert.Zero(t, idx.QueryPoint(5, 5).Len())
	assert.Equal(t, 1, idx.QueryPoint(0, 0).Len())

	cur := idx.QueryDim(0, 0, 2, 1)
	assert.Equal(t, 2, cur.Len(), "cells, not entities")
	assert.Len(t, cur.Collect(), 3)
	assert.True(t, cur.Done())
	assert.Equal(t, 2, cur.Len(), "unchanged once drained")
}

func TestQueryRadiusFarCells(t *testing.T) {
	idx := newTestIndex(t)
	e := spawn(t, idx, 6e8, 0, false)

	assert.Equal(t, []*Entity{e}, idx.QueryRadius(0, 0, 1e9).Collect())
	assert.Empty(t, idx.QueryRadius(0, 0, 5e8).Collect())
}
