package ksync

import "sync"

// MutexTracker records, per task, which mutexes it currently holds, so a
// dying task's locks can all be force-released, per spec.md §4.18: "the
// MutexTracker's force_release_all walking the dying task's held set."
type MutexTracker struct {
	mu   sync.Mutex
	held map[uint32]map[*Mutex]struct{}
}

// NewMutexTracker returns an empty tracker.
func NewMutexTracker() *MutexTracker {
	return &MutexTracker{held: make(map[uint32]map[*Mutex]struct{})}
}

// Record notes that pid now holds m, called after a successful Acquire.
func (t *MutexTracker) Record(pid uint32, m *Mutex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.held[pid]
	if !ok {
		set = make(map[*Mutex]struct{})
		t.held[pid] = set
	}
	set[m] = struct{}{}
}

// Forget removes m from pid's held set, called after a successful Release.
func (t *MutexTracker) Forget(pid uint32, m *Mutex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.held[pid]; ok {
		delete(set, m)
		if len(set) == 0 {
			delete(t.held, pid)
		}
	}
}

// ForceReleaseAll force-unlocks every mutex pid still holds, then clears
// its held set, called on task death.
func (t *MutexTracker) ForceReleaseAll(pid uint32) {
	t.mu.Lock()
	set := t.held[pid]
	delete(t.held, pid)
	t.mu.Unlock()

	for m := range set {
		m.ForceUnlock()
	}
}
