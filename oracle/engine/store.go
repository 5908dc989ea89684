package engine

// Store abstracts the slot storage behind the ledger ring. The default
// in-memory store is sufficient for an embedded engine; a chain-backed
// implementation can substitute without touching the consensus logic.
type Store interface {
	// Capacity is the fixed ring size.
	Capacity() uint64
	// Slot returns the occupant of idx, or nil if the slot was never
	// allocated. Callers mutate the returned request in place.
	Slot(idx uint64) *Request
	// Allocate resets slot idx for a new occupant and returns it. Any prior
	// occupant is deliberately forgotten.
	Allocate(idx uint64) *Request
	// NextID and OldestPending are the two ledger counters.
	NextID() uint64
	SetNextID(id uint64)
	OldestPending() uint64
	SetOldestPending(id uint64)
}

// responsePoolSize is the per-slot response capacity preallocated to
// amortize append churn across slot reuse.
const responsePoolSize = 8

// MemoryStore is the default Store: a preallocated ring of request slots
// whose response slices are reused across occupants.
type MemoryStore struct {
	slots         []Request
	used          []bool
	nextID        uint64
	oldestPending uint64
}

// NewMemoryStore creates a ring with the given capacity, with ids starting
// at startID.
func NewMemoryStore(capacity, startID uint64) *MemoryStore {
	if capacity == 0 {
		capacity = 1
	}
	s := &MemoryStore{
		slots:         make([]Request, capacity),
		used:          make([]bool, capacity),
		nextID:        startID,
		oldestPending: startID,
	}
	for i := range s.slots {
		s.slots[i].Responses = make([]Response, 0, responsePoolSize)
	}
	return s
}

// Capacity implements Store.
func (s *MemoryStore) Capacity() uint64 {
	return uint64(len(s.slots))
}

// Slot implements Store.
func (s *MemoryStore) Slot(idx uint64) *Request {
	if !s.used[idx] {
		return nil
	}
	return &s.slots[idx]
}

// Allocate implements Store.
func (s *MemoryStore) Allocate(idx uint64) *Request {
	r := &s.slots[idx]
	responses := r.Responses[:0]
	*r = Request{Responses: responses}
	s.used[idx] = true
	return r
}

// NextID implements Store.
func (s *MemoryStore) NextID() uint64 { return s.nextID }

// SetNextID implements Store.
func (s *MemoryStore) SetNextID(id uint64) { s.nextID = id }

// OldestPending implements Store.
func (s *MemoryStore) OldestPending() uint64 { return s.oldestPending }

// SetOldestPending implements Store.
func (s *MemoryStore) SetOldestPending(id uint64) { s.oldestPending = id }
