package selection

import (
	"sync"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
)

// Registry holds the selected store set for each run. A run's set is immutable
// once selected; re-selecting the same run replaces the whole set (last call
// wins). The most recent selection becomes the active run, which resolves
// requests that omit a run ID.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]map[string]coord.Candidate
	active string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]map[string]coord.Candidate)}
}

// Select samples count stores from candidates, records the set for runID, and
// marks runID active. Store IDs are case-folded before storage.
func (r *Registry) Select(runID string, candidates []coord.Candidate, count int) []coord.Candidate {
	chosen := Sample(candidates, count)
	set := make(map[string]coord.Candidate, len(chosen))
	for _, c := range chosen {
		set[coord.NormalizeStoreID(c.StoreID)] = c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = set
	r.active = runID
	return chosen
}

// Contains reports whether storeID belongs to the run's selected set. An empty
// runID resolves to the active run.
func (r *Registry) Contains(runID, storeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.runs[r.resolve(runID)]
	if !ok {
		return false
	}
	_, ok = set[coord.NormalizeStoreID(storeID)]
	return ok
}

// Count reports the size of the run's selected set.
func (r *Registry) Count(runID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs[r.resolve(runID)])
}

// ActiveRun returns the run ID of the most recent selection.
func (r *Registry) ActiveRun() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// DropRun discards the selection for runID. The active marker is cleared if it
// pointed at the dropped run.
func (r *Registry) DropRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	if r.active == runID {
		r.active = ""
	}
}

// resolve maps an empty run ID to the active run. Caller holds at least a read
// lock.
func (r *Registry) resolve(runID string) string {
	if runID == "" {
		return r.active
	}
	return runID
}
