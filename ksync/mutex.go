// Package ksync implements the cooperative-scheduler Mutex and
// MutexTracker of spec.md §4.18: a FIFO sleep-lock plus per-task held-lock
// bookkeeping for cleanup on task death.
//
// Grounded on biscuit/src/util/util.go's plain, allocation-free style and
// on biscuit/src/mem/mem.go's per-structure sync.Mutex usage; the FIFO
// wait-queue and force-unlock semantics come directly from spec.md §4.18
// and §3, since the teacher's own locks are plain sync.Mutex without a
// wait-queue or force-release concept.
package ksync

import (
	"sync"

	"palmyraos/kerr"
)

// waitQueueCapacity is the FIFO wait-queue depth spec.md §4.18 names: "FIFO
// wait queue (capacity 32)."
const waitQueueCapacity = 32

// Mutex is a cooperative-scheduler sleep-lock, spec.md §3: "{locked?,
// owner_pid, wait_queue, queue_spinlock}."
type Mutex struct {
	spinlock sync.Mutex
	locked   bool
	owner    uint32
	waiters  []chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// TryAcquire CAS-style sets (locked?, owner_pid) := (true, pid) iff
// currently unlocked, per spec.md §4.18.
func (m *Mutex) TryAcquire(pid uint32) bool {
	m.spinlock.Lock()
	defer m.spinlock.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	m.owner = pid
	return true
}

// Acquire blocks (by parking the calling goroutine on a channel, the
// hosted-Go substitute for the cooperative scheduler's voluntary yield)
// until the lock is granted.
func (m *Mutex) Acquire(pid uint32) error {
	if m.TryAcquire(pid) {
		return nil
	}

	m.spinlock.Lock()
	if len(m.waiters) >= waitQueueCapacity {
		m.spinlock.Unlock()
		return kerr.Wrap(kerr.ErrBusy, "ksync: wait queue full")
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.spinlock.Unlock()

	<-ch
	m.spinlock.Lock()
	m.owner = pid
	m.spinlock.Unlock()
	return nil
}

// Release succeeds only if the caller is the current owner. If waiters
// exist, the head of the queue is handed the lock and marked runnable, per
// spec.md §4.18.
func (m *Mutex) Release(pid uint32) error {
	m.spinlock.Lock()
	defer m.spinlock.Unlock()
	if !m.locked || m.owner != pid {
		return kerr.Wrap(kerr.ErrInvalidArgument, "ksync: release by non-owner")
	}
	return m.releaseLocked()
}

// releaseLocked assumes m.spinlock is held.
func (m *Mutex) releaseLocked() error {
	if len(m.waiters) == 0 {
		m.locked = false
		m.owner = 0
		return nil
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	close(next)
	return nil
}

// ForceUnlock is invoked by the process manager when a task dies; it
// unconditionally unlocks and wakes the next waiter, per spec.md §4.18.
func (m *Mutex) ForceUnlock() {
	m.spinlock.Lock()
	defer m.spinlock.Unlock()
	m.releaseLocked()
}

// Owner returns the current owner pid and whether the lock is held.
func (m *Mutex) Owner() (uint32, bool) {
	m.spinlock.Lock()
	defer m.spinlock.Unlock()
	return m.owner, m.locked
}
