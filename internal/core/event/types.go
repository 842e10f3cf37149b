package event

import "github.com/vcworld/vcworld/internal/core/ecs"

// Index change events. Cells are grid coordinates.

type EntityIndexed struct {
	EntityID ecs.EntityID
	X, Y     int32
	Stacked  bool // landed on an occupied cell
}

type EntityRemoved struct {
	EntityID ecs.EntityID
	X, Y     int32
}

type EntityMoved struct {
	EntityID     ecs.EntityID
	FromX, FromY int32
	ToX, ToY     int32
}
