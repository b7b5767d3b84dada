package timeline

import (
	"sync"
	"time"
)

// Engine serializes merges for one conversation. Concurrent feeds call Apply
// and every input is applied whole before the next one starts.
type Engine struct {
	mu sync.RWMutex
	tl Timeline
}

func NewEngine(selfID, peerID string, window time.Duration) *Engine {
	return &Engine{tl: New(selfID, peerID, window)}
}

// Result describes the effect of one Apply.
type Result struct {
	Changed  bool
	Promoted int // pending entries confirmed by this input
	Pending  int // pending entries left afterwards
}

// Apply merges in and reports what changed.
func (e *Engine) Apply(in Input) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	before := e.tl.PendingCount()
	next, changed := Merge(e.tl, in)
	e.tl = next
	after := next.PendingCount()
	r := Result{Changed: changed, Pending: after}
	if after < before {
		r.Promoted = before - after
	}
	return r
}

// Snapshot returns a copy of the current ordered messages.
func (e *Engine) Snapshot() []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tl.Messages()
}

// Timeline returns the current timeline value.
func (e *Engine) Timeline() Timeline {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tl.clone()
}

func (e *Engine) HasLocalKey(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tl.indexByLocalKey(key) >= 0
}

func (e *Engine) StalePending(now time.Time, age time.Duration) []Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tl.StalePending(now, age)
}

func (e *Engine) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tl.PendingCount()
}
