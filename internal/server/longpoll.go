package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/blindbackup/internal/pathutil"
)

// observerEvent is one buffered notification: the absolute event path,
// its kind ("FILE"/"DIRECTORY"/"DELETE"), and the uid of the sync that
// originated it, so a listener can ignore events it caused itself.
type observerEvent struct {
	Path          string
	Kind          string
	OriginatorUID string
}

type observer struct {
	root    pathutil.RelPath
	expires time.Time
	events  []observerEvent
}

// observerTable is the server's long-poll registry, one entry per
// listenchanges call. It is owned by a single mutex rather than a
// single event-loop thread (the teacher's Python server ran on one),
// since Go's HTTP server dispatches concurrently.
type observerTable struct {
	ttl time.Duration

	mu        sync.Mutex
	observers map[string]*observer
}

func newObserverTable(ttl time.Duration) *observerTable {
	return &observerTable{ttl: ttl, observers: make(map[string]*observer)}
}

// Add registers a new observer rooted at root, expiring in 2*TTL unless
// renewed by a poll, and returns its opaque uid.
func (t *observerTable) Add(root pathutil.RelPath) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	t.observers[id] = &observer{
		root:    root,
		expires: time.Now().Add(2 * t.ttl),
	}
	return id
}

// Notify appends an event to every observer whose root is a prefix of
// eventPath, and garbage-collects any observer past expiry.
func (t *observerTable) Notify(eventPath pathutil.RelPath, kind, originatorUID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, obs := range t.observers {
		if now.After(obs.expires) {
			delete(t.observers, id)
			continue
		}
		if eventPath.HasPrefix(obs.root) {
			obs.events = append(obs.events, observerEvent{
				Path:          eventPath.String(),
				Kind:          kind,
				OriginatorUID: originatorUID,
			})
		}
	}
}

// Drain returns and clears uid's buffered events, renewing its expiry
// by +TTL. Returns false if uid is unknown or already expired (in which
// case it is removed).
func (t *observerTable) Drain(uid string) ([]observerEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs, ok := t.observers[uid]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if now.After(obs.expires) {
		delete(t.observers, uid)
		return nil, false
	}
	obs.expires = now.Add(t.ttl)
	if len(obs.events) == 0 {
		return nil, true
	}
	events := obs.events
	obs.events = nil
	return events, true
}
