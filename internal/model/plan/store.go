package plan

// Store exposes the plan catalog.
type Store interface {
	List() []Plan
	FindByID(id string) (Plan, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Plan
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied plans.
func NewMemoryStore(items []Plan) *MemoryStore {
	return &MemoryStore{items: append([]Plan(nil), items...)}
}

// List returns the catalog in display order.
func (s *MemoryStore) List() []Plan {
	return append([]Plan(nil), s.items...)
}

// FindByID looks up a plan by identifier.
func (s *MemoryStore) FindByID(id string) (Plan, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Plan{}, false
}
