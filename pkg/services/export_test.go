package services

// TrackedRuns reports how many run ids resolve to a live session.
func (r *Runs) TrackedRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.runs)
}
