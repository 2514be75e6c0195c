// Package registry maintains the supervisor's in-memory view of reachable
// workers (spec.md §4.2). It holds no durable state of its own — it is
// rebuilt implicitly as heartbeat notifications arrive.
package registry

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHeartbeatInterval is the default period between worker heartbeats.
const DefaultHeartbeatInterval = 5 * time.Second

// LivenessWindow returns the duration within which a worker must have
// heartbeated to remain eligible for dispatch: 3x the heartbeat interval.
func LivenessWindow(heartbeatInterval time.Duration) time.Duration {
	return 3 * heartbeatInterval
}

// entry is the supervisor-side record for a single worker.
type entry struct {
	lastHeardAt time.Time
	busy        bool
}

// Registry is the supervisor's view of live workers. Safe for concurrent
// use, though in practice it is only ever touched by the single supervisor
// driver goroutine.
type Registry struct {
	mu             sync.Mutex
	workers        map[uuid.UUID]*entry
	livenessWindow time.Duration
}

// New creates a Registry with the given liveness window.
func New(livenessWindow time.Duration) *Registry {
	return &Registry{
		workers:        make(map[uuid.UUID]*entry),
		livenessWindow: livenessWindow,
	}
}

// RecordHeartbeat upserts the entry for id with last_heard_at=at and clears
// any busy flag — a worker that just heartbeated is presumed free again.
func (r *Registry) RecordHeartbeat(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		e = &entry{}
		r.workers[id] = e
	}
	e.lastHeardAt = at
	e.busy = false
}

// MarkBusy sets a best-effort busy flag on id, if known. Correctness never
// depends on this — begin_task's CAS is the source of truth — it only
// reduces the odds the same worker is picked twice in a row.
func (r *Registry) MarkBusy(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.workers[id]; ok {
		e.busy = true
	}
}

// PickTarget returns a uniformly-random eligible worker id, or false if none
// qualify. Eligibility is last_heard_at within the liveness window and not
// busy; if no non-busy worker qualifies, the busy constraint is relaxed
// before giving up.
func (r *Registry) PickTarget(now time.Time) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.livenessWindow)

	var idle, any []uuid.UUID
	for id, e := range r.workers {
		if e.lastHeardAt.Before(cutoff) {
			continue
		}
		any = append(any, id)
		if !e.busy {
			idle = append(idle, id)
		}
	}

	if len(idle) > 0 {
		return idle[randIndex(len(idle))], true
	}
	if len(any) > 0 {
		return any[randIndex(len(any))], true
	}
	return uuid.Nil, false
}

// Count returns the number of workers the registry currently knows about,
// live or stale.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// LiveCount returns the number of workers within the liveness window as of now.
func (r *Registry) LiveCount(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.livenessWindow)
	n := 0
	for _, e := range r.workers {
		if !e.lastHeardAt.Before(cutoff) {
			n++
		}
	}
	return n
}

// randIndex returns a uniformly random index in [0, n) using crypto/rand,
// so worker selection has no exploitable bias and needs no seeding.
func randIndex(n int) int {
	if n <= 1 {
		return 0
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(idx.Int64())
}
