// Package state tracks per-(store, run) crawl lifecycle state and recovers
// stores whose workers have stalled or died.
package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
	"github.com/JakeFAU/storefront-coordinator/internal/progress"
)

// Config controls the stall-recovery heuristics.
type Config struct {
	// StuckThreshold is the number of consecutive polls without progress
	// after which the store's progress is nudged forward by one.
	StuckThreshold int
	// VisitTimeout force-completes a visiting store whose state has not been
	// touched for this long.
	VisitTimeout time.Duration
}

const (
	defaultStuckThreshold = 5
	defaultVisitTimeout   = 2 * time.Minute
)

type entry struct {
	coord.StoreState

	// Staleness tracking, internal to the poll reconciliation.
	lastProgress int
	stuckCount   int
}

type key struct {
	runID   string
	storeID string
}

// Store is the in-memory store-state map. All mutation happens under its own
// mutex; it shares no lock with the quota counter so unrelated stores are not
// serialized against budget reservations.
type Store struct {
	mu      sync.RWMutex
	entries map[key]*entry
	cfg     Config
	clock   coord.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg Config, clock coord.Clock, emitter progress.Emitter, logger *zap.Logger) *Store {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = defaultStuckThreshold
	}
	if cfg.VisitTimeout <= 0 {
		cfg.VisitTimeout = defaultVisitTimeout
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[key]*entry),
		cfg:     cfg,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
	}
}

// Set upserts the state for (storeID, runID) and stamps UpdatedAt. Workers
// push whole records; the last write wins, including the lock flag.
func (s *Store) Set(storeID, runID string, status coord.StoreStatus, lock bool, expected, progress int) coord.StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key{runID, storeID}]
	if e == nil {
		e = &entry{}
		s.entries[key{runID, storeID}] = e
	}
	e.StoreID = storeID
	e.RunID = runID
	e.State = status
	e.Lock = lock
	e.Expected = expected
	e.Progress = progress
	e.lastProgress = progress
	e.stuckCount = 0
	e.UpdatedAt = s.clock.Now()
	return e.StoreState
}

// Poll returns the state for (storeID, runID), synthesizing and storing a
// waiting default on first read so repeated reads are stable.
//
// Poll is a read with write side effects: for a visiting store it runs the
// stale-progress detector and the hard visit timeout before returning, because
// workers are uncoordinated browser tabs that can crash silently and polling
// is the coordinator's only chance to intervene.
func (s *Store) Poll(storeID, runID string) coord.StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key{runID, storeID}]
	if e == nil {
		e = &entry{StoreState: coord.StoreState{
			StoreID:   storeID,
			RunID:     runID,
			State:     coord.StatusWaiting,
			UpdatedAt: s.clock.Now(),
		}}
		s.entries[key{runID, storeID}] = e
		return e.StoreState
	}
	if e.State == coord.StatusVisiting {
		s.reconcile(e)
	}
	return e.StoreState
}

// reconcile applies the stall heuristics to a visiting entry. Caller holds mu.
func (s *Store) reconcile(e *entry) {
	now := s.clock.Now()

	if e.Progress == e.lastProgress {
		e.stuckCount++
	} else {
		e.lastProgress = e.Progress
		e.stuckCount = 0
	}
	if e.stuckCount >= s.cfg.StuckThreshold {
		// Nudge forward so a slow product cannot stall the run forever.
		// Overcounts if the worker actually crashed; the visit timeout
		// below cleans that up.
		e.Progress++
		e.lastProgress = e.Progress
		e.stuckCount = 0
		e.UpdatedAt = now
		s.logger.Warn("store progress nudged",
			zap.String("store_id", e.StoreID),
			zap.String("run_id", e.RunID),
			zap.Int("progress", e.Progress),
		)
		s.emitter.Emit(progress.Event{
			TS:      now,
			Stage:   progress.StageNudge,
			RunID:   e.RunID,
			StoreID: e.StoreID,
			Count:   e.Progress,
		})
	}

	if now.Sub(e.UpdatedAt) > s.cfg.VisitTimeout {
		e.State = coord.StatusDone
		e.Lock = false
		e.UpdatedAt = now
		s.logger.Warn("store visit timed out",
			zap.String("store_id", e.StoreID),
			zap.String("run_id", e.RunID),
			zap.Int("progress", e.Progress),
			zap.Int("expected", e.Expected),
		)
		s.emitter.Emit(progress.Event{
			TS:      now,
			Stage:   progress.StageTimeout,
			RunID:   e.RunID,
			StoreID: e.StoreID,
			Count:   e.Progress,
		})
	}
}

// IncrementProgress adds delta to the store's progress counter and stamps
// UpdatedAt. The entry is created if the worker reports progress before any
// state write.
func (s *Store) IncrementProgress(storeID, runID string, delta int) coord.StoreState {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key{runID, storeID}]
	if e == nil {
		e = &entry{StoreState: coord.StoreState{
			StoreID: storeID,
			RunID:   runID,
			State:   coord.StatusWaiting,
		}}
		s.entries[key{runID, storeID}] = e
	}
	e.Progress += delta
	e.lastProgress = e.Progress
	e.stuckCount = 0
	e.UpdatedAt = s.clock.Now()
	return e.StoreState
}

// DropRun evicts every entry belonging to runID and reports how many were
// removed. Runs are otherwise process-lifetime.
func (s *Store) DropRun(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for k := range s.entries {
		if k.runID == runID {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of tracked (store, run) entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
