package engine

// TimeoutRequest finalizes a pending request whose deadline has passed.
// Callable by anyone; settlement uses whatever responses exist, possibly
// none.
func (e *Engine) TimeoutRequest(requestID uint64) error {
	e.mu.Lock()

	r, err := e.lookupLocked(requestID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if r.Status.Finalized() {
		e.mu.Unlock()
		return ErrAlreadyFinalized
	}
	if !e.now().After(r.CreatedAt.Add(e.requestTimeout)) {
		e.mu.Unlock()
		return ErrNotYetTimedOut
	}

	ev := e.finalizeLocked(r, StatusTimedOut)
	e.sendFinalized([]*RequestFinalizedEvent{ev}, e.mu.Unlock)
	return nil
}

// UpkeepRequests sweeps the ledger from the oldest pending slot forward and
// times out every request whose deadline has passed. Idempotent on a
// quiescent ledger.
func (e *Engine) UpkeepRequests() {
	e.mu.Lock()
	events := e.upkeepLocked()
	e.sendFinalized(events, e.mu.Unlock)
}

// upkeepLocked walks ids from oldestPending to nextID-1. Overwritten and
// already-finalized slots advance the cursor; the walk stops at the first
// request still inside its deadline, since later ids are strictly newer.
func (e *Engine) upkeepLocked() []*RequestFinalizedEvent {
	var events []*RequestFinalizedEvent
	now := e.now()

	id := e.store.OldestPending()
	next := e.store.NextID()
	for ; id < next; id++ {
		r := e.store.Slot(id % e.store.Capacity())
		if r == nil || r.ID != id {
			continue
		}
		if r.Status.Finalized() {
			continue
		}
		if !now.After(r.CreatedAt.Add(e.requestTimeout)) {
			break
		}
		events = append(events, e.finalizeLocked(r, StatusTimedOut))
	}
	e.store.SetOldestPending(id)
	return events
}
