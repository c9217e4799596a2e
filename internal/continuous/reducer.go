package continuous

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/blindbackup/internal/constants"
	"github.com/rescale/blindbackup/internal/pathutil"
	"github.com/rescale/blindbackup/internal/provider"
)

// Reducer debounces a stream of changed-path events into a pending set
// that a quiescence tick periodically drains, collapsing an ancestor
// and any of its descendants into a single entry (the ancestor's
// eventual re-sync covers everything beneath it).
type Reducer struct {
	ttl         time.Duration
	canTrigger  *atomic.Bool
	onQuiesce   func([]pathutil.RelPath)

	mu          sync.Mutex
	pending     []pathutil.RelPath
	lastChanged time.Time
}

// NewReducer creates a Reducer with the given debounce window. canTrigger
// is shared with sibling reducers and the owning Controller: while it is
// false (a sync is in flight), quiescence ticks are skipped so reducers
// never race a sync already in progress.
func NewReducer(ttl time.Duration, canTrigger *atomic.Bool, onQuiesce func([]pathutil.RelPath)) *Reducer {
	return &Reducer{
		ttl:        ttl,
		canTrigger: canTrigger,
		onQuiesce:  onQuiesce,
	}
}

// AddEvent enqueues path, applying parent-subsumption: if an ancestor of
// path is already pending, path is dropped (the ancestor's re-sync will
// cover it); otherwise path is queued and any already-pending descendant
// of path is discarded.
func (r *Reducer) AddEvent(path pathutil.RelPath) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pending {
		if path.HasPrefix(p) {
			r.lastChanged = time.Now()
			return
		}
	}

	kept := r.pending[:0:0]
	for _, p := range r.pending {
		if !p.HasPrefix(path) {
			kept = append(kept, p)
		}
	}
	r.pending = append(kept, path)
	r.lastChanged = time.Now()
}

// Pending returns a snapshot of the currently queued paths, for tests
// and diagnostics.
func (r *Reducer) Pending() []pathutil.RelPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pathutil.RelPath, len(r.pending))
	copy(out, r.pending)
	return out
}

// drainIfQuiescent drains and returns the pending set if the debounce
// window has elapsed since the last event and the reducer is still
// clear to trigger; otherwise it returns nil.
func (r *Reducer) drainIfQuiescent() []pathutil.RelPath {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	if !r.canTrigger.Load() {
		return nil
	}
	if time.Since(r.lastChanged) < r.ttl {
		return nil
	}
	drained := r.pending
	r.pending = nil
	return drained
}

// Start runs the quiescence-tick loop in a goroutine and returns a
// handle for cooperative shutdown, matching the stop/join pattern
// provider listeners use.
func (r *Reducer) Start(uid string) *provider.ListenerHandle {
	handle := provider.NewListenerHandle(uid)
	tick := r.ttl / constants.ReducerTickDivisor
	if tick <= 0 {
		tick = time.Millisecond
	}

	go func() {
		defer handle.MarkDone()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-handle.StopChannel():
				return
			case <-ticker.C:
				if drained := r.drainIfQuiescent(); drained != nil {
					r.onQuiesce(drained)
				}
			}
		}
	}()

	return handle
}
