package directory

// Round tracks, for one logical query, which servers were attempted per chunk
// and which chunks already have an answer.
//
// Thread-safety: A round shares the lock of its directory, so selecting a
// replica and recording the attempt is a single atomic step with respect to
// liveness changes and concurrent chunk tasks.
type Round struct {
	dir       *Directory
	attempted map[string]map[ServerID]struct{}
	satisfied map[string]struct{}
}

// NewRound creates empty per-query state
func (d *Directory) NewRound() *Round {
	return &Round{
		dir:       d,
		attempted: make(map[string]map[ServerID]struct{}),
		satisfied: make(map[string]struct{}),
	}
}

// PrimaryFor returns the primary of chunk if it is alive and records it as attempted
func (r *Round) PrimaryFor(chunk string) (ServerID, bool) {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()

	id, ok := r.dir.primaryLocked(chunk)
	if ok {
		r.markLocked(chunk, id)
	}
	return id, ok
}

// NextUntriedReplicaFor scans the replicas of chunk (assignment index 1 and up)
// and returns the first alive one not yet attempted in this round, marking it attempted.
func (r *Round) NextUntriedReplicaFor(chunk string) (ServerID, bool) {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()

	ids := r.dir.assignment[chunk]
	tried := r.attempted[chunk]
	for i := 1; i < len(ids); i++ {
		id := ids[i]
		if _, alive := r.dir.alive[id]; !alive {
			continue
		}
		if _, done := tried[id]; done {
			continue
		}
		r.markLocked(chunk, id)
		return id, true
	}
	return 0, false
}

// MarkChunkSatisfied returns false if chunk was already satisfied in this round
func (r *Round) MarkChunkSatisfied(chunk string) bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()

	if _, ok := r.satisfied[chunk]; ok {
		return false
	}
	r.satisfied[chunk] = struct{}{}
	return true
}

// Satisfied reports whether chunk has been marked satisfied
func (r *Round) Satisfied(chunk string) bool {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()
	_, ok := r.satisfied[chunk]
	return ok
}

// Attempted returns the servers attempted for chunk in sorted order
func (r *Round) Attempted(chunk string) []ServerID {
	r.dir.mu.Lock()
	defer r.dir.mu.Unlock()

	ids := make([]ServerID, 0, len(r.attempted[chunk]))
	for id := range r.attempted[chunk] {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func (r *Round) markLocked(chunk string, id ServerID) {
	tried, ok := r.attempted[chunk]
	if !ok {
		tried = make(map[ServerID]struct{})
		r.attempted[chunk] = tried
	}
	tried[id] = struct{}{}
}

func (r *Round) resetLocked() {
	clear(r.attempted)
	clear(r.satisfied)
}
