package world

import "errors"

var (
	// ErrAlreadyOwned: the entity is already held by an index.
	ErrAlreadyOwned = errors.New("entity already owned by an index")
	// ErrPositionOccupied: non-stacking insert onto an occupied cell.
	ErrPositionOccupied = errors.New("cell already occupied")
	// ErrNotOwned: the entity does not belong to this index.
	ErrNotOwned = errors.New("entity not owned by this index")
	// ErrIndexFailure: the cell tree could not complete the operation.
	// The index is left as it was before the call.
	ErrIndexFailure = errors.New("cell tree operation failed")
	// ErrIOFailure wraps every persistence stream error.
	ErrIOFailure = errors.New("world i/o failure")
	// ErrUnknownEntity: the id was never allocated or has been released.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrInvariant is reported by Index.Validate.
	ErrInvariant = errors.New("index invariant violated")
)
