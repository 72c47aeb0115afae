package session

import "sync"

// AckTracker accumulates inbound message ids awaiting acknowledgement.
type AckTracker struct {
	mu  sync.Mutex
	ids []uint64
	set map[uint64]struct{}
}

func NewAckTracker() *AckTracker {
	return &AckTracker{set: make(map[uint64]struct{})}
}

// Add records id and reports false when it was already tracked.
func (a *AckTracker) Add(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.set[id]; ok {
		return false
	}
	a.set[id] = struct{}{}
	a.ids = append(a.ids, id)
	return true
}

// DrainIfThreshold hands back and clears the batch once it holds at least threshold ids.
func (a *AckTracker) DrainIfThreshold(threshold int) []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ids) == 0 || len(a.ids) < threshold {
		return nil
	}
	return a.drainLocked()
}

// Drain hands back and clears everything tracked.
func (a *AckTracker) Drain() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ids) == 0 {
		return nil
	}
	return a.drainLocked()
}

// Requeue puts back a batch whose transmission failed.
func (a *AckTracker) Requeue(ids []uint64) {
	for _, id := range ids {
		a.Add(id)
	}
}

func (a *AckTracker) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ids)
}

func (a *AckTracker) drainLocked() []uint64 {
	out := a.ids
	a.ids = nil
	a.set = make(map[uint64]struct{})
	return out
}
