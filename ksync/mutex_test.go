package ksync

import (
	"testing"
	"time"
)

func TestTryAcquireExclusion(t *testing.T) {
	m := NewMutex()
	if !m.TryAcquire(1) {
		t.Fatal("first TryAcquire should succeed")
	}
	if m.TryAcquire(2) {
		t.Fatal("second TryAcquire should fail while held")
	}
	owner, locked := m.Owner()
	if !locked || owner != 1 {
		t.Fatalf("Owner() = (%d, %v), want (1, true)", owner, locked)
	}
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	m := NewMutex()
	m.TryAcquire(1)
	if err := m.Release(2); err == nil {
		t.Fatal("expected error releasing a lock owned by another pid")
	}
}

// TestAcquireFIFOOrder confirms waiters are granted the lock in the order
// they queued, per spec.md §4.18's FIFO wait queue.
func TestAcquireFIFOOrder(t *testing.T) {
	m := NewMutex()
	m.TryAcquire(1)

	order := make(chan uint32, 3)
	for _, pid := range []uint32{2, 3, 4} {
		pid := pid
		go func() {
			if err := m.Acquire(pid); err != nil {
				t.Errorf("Acquire(%d): %v", pid, err)
				return
			}
			order <- pid
			m.Release(pid)
		}()
		// give this goroutine time to park on the wait queue before the
		// next is launched, so the queue order is the launch order.
		time.Sleep(10 * time.Millisecond)
	}
	m.Release(1)

	var got []uint32
	for i := 0; i < 3; i++ {
		select {
		case pid := <-order:
			got = append(got, pid)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for queued acquirers")
		}
	}
	want := []uint32{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("acquire order = %v, want %v", got, want)
		}
	}
}

func TestForceUnlockWakesWaiter(t *testing.T) {
	m := NewMutex()
	m.TryAcquire(1)
	done := make(chan struct{})
	go func() {
		m.Acquire(2)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	m.ForceUnlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ForceUnlock did not wake the waiter")
	}
}

func TestMutexTrackerForceReleaseAll(t *testing.T) {
	tr := NewMutexTracker()
	m1, m2 := NewMutex(), NewMutex()
	m1.TryAcquire(7)
	m2.TryAcquire(7)
	tr.Record(7, m1)
	tr.Record(7, m2)

	tr.ForceReleaseAll(7)

	if _, locked := m1.Owner(); locked {
		t.Fatal("m1 should be unlocked after ForceReleaseAll")
	}
	if _, locked := m2.Owner(); locked {
		t.Fatal("m2 should be unlocked after ForceReleaseAll")
	}
}
