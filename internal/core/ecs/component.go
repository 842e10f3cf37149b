package ecs

// PtrComponentStore is a generic typed store keyed by EntityID.
// Slots are addressed by the ID's index; the stored ID guards against
// stale generations, so a destroyed-then-recycled index never aliases.
type PtrComponentStore[T any] struct {
	ids   []EntityID
	slots []*T
	n     int
}

func NewPtrComponentStore[T any]() *PtrComponentStore[T] {
	return &PtrComponentStore[T]{
		ids:   make([]EntityID, 0, 256),
		slots: make([]*T, 0, 256),
	}
}

func (s *PtrComponentStore[T]) Set(id EntityID, c *T) {
	idx := int(id.Index())
	for idx >= len(s.slots) {
		s.ids = append(s.ids, 0)
		s.slots = append(s.slots, nil)
	}
	if s.slots[idx] == nil {
		s.n++
	}
	s.ids[idx] = id
	s.slots[idx] = c
}

func (s *PtrComponentStore[T]) Get(id EntityID) (*T, bool) {
	idx := int(id.Index())
	if id.IsZero() || idx >= len(s.slots) || s.ids[idx] != id || s.slots[idx] == nil {
		return nil, false
	}
	return s.slots[idx], true
}

func (s *PtrComponentStore[T]) Remove(id EntityID) {
	if _, ok := s.Get(id); !ok {
		return
	}
	idx := int(id.Index())
	s.ids[idx] = 0
	s.slots[idx] = nil
	s.n--
}

func (s *PtrComponentStore[T]) Has(id EntityID) bool {
	_, ok := s.Get(id)
	return ok
}

func (s *PtrComponentStore[T]) Len() int {
	return s.n
}

// Each visits stored components in slot order. fn returning false stops the walk.
func (s *PtrComponentStore[T]) Each(fn func(EntityID, *T) bool) {
	for i, c := range s.slots {
		if c == nil {
			continue
		}
		if !fn(s.ids[i], c) {
			return
		}
	}
}
