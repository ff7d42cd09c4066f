package kernelsync

import (
	"testing"

	"preemptos/internal/task"
)

func noop(task.Handle) {}

func makeTable(t *testing.T, priorities ...uint8) *task.Table {
	t.Helper()
	tbl := task.NewTable()
	for _, p := range priorities {
		if _, err := tbl.Create(noop, "t", p, 256); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	return tbl
}

func TestMutexLockUncontendedSucceedsImmediately(t *testing.T) {
	tbl := makeTable(t, 5)
	m := NewMutex()
	if blocked := m.Lock(tbl, 0, false); blocked {
		t.Error("locking a free mutex must not block")
	}
	if !m.Locked || m.LockedBy != 0 {
		t.Errorf("expected mutex held by 0, got locked=%v by=%d", m.Locked, m.LockedBy)
	}
}

func TestMutexLockContendedQueuesFIFO(t *testing.T) {
	tbl := makeTable(t, 5, 5, 5)
	m := NewMutex()
	m.Lock(tbl, 0, false)

	if blocked := m.Lock(tbl, 1, false); !blocked {
		t.Error("expected the second locker to block")
	}
	if blocked := m.Lock(tbl, 2, false); !blocked {
		t.Error("expected the third locker to block")
	}

	woken := m.Unlock(tbl, 0, false)
	if woken != 1 {
		t.Errorf("Unlock woke %d, want 1 (FIFO order)", woken)
	}
	if m.LockedBy != 1 {
		t.Errorf("LockedBy = %d, want 1", m.LockedBy)
	}

	woken = m.Unlock(tbl, 1, false)
	if woken != 2 {
		t.Errorf("Unlock woke %d, want 2", woken)
	}
}

func TestMutexUnlockByNonOwnerIsNoOp(t *testing.T) {
	tbl := makeTable(t, 5, 5)
	m := NewMutex()
	m.Lock(tbl, 0, false)

	if woken := m.Unlock(tbl, 1, false); woken != -1 {
		t.Errorf("Unlock by a non-owner must be a no-op, got woken=%d", woken)
	}
	if !m.Locked || m.LockedBy != 0 {
		t.Error("the mutex must remain held by its real owner")
	}
}

func TestMutexUnlockWithEmptyQueueFreesTheMutex(t *testing.T) {
	tbl := makeTable(t, 5)
	m := NewMutex()
	m.Lock(tbl, 0, false)
	if woken := m.Unlock(tbl, 0, false); woken != -1 {
		t.Errorf("woken = %d, want -1", woken)
	}
	if m.Locked {
		t.Error("expected the mutex to be free")
	}
}

func TestMutexPriorityInheritanceRaisesHolderPriority(t *testing.T) {
	tbl := makeTable(t, 10, 0) // holder low priority (10), waiter high (0)
	m := NewMutex()
	m.Lock(tbl, 0, true)
	m.Lock(tbl, 1, true)

	if tbl.Tasks[0].CurrentPriority != 0 {
		t.Errorf("holder's CurrentPriority = %d, want boosted to 0", tbl.Tasks[0].CurrentPriority)
	}
}

func TestMutexUnlockRestoresBasePriorityAfterInheritance(t *testing.T) {
	tbl := makeTable(t, 10, 0)
	m := NewMutex()
	m.Lock(tbl, 0, true)
	m.Lock(tbl, 1, true)
	m.Unlock(tbl, 0, true)

	if tbl.Tasks[0].CurrentPriority != tbl.Tasks[0].Priority {
		t.Errorf("CurrentPriority = %d, want restored to base Priority %d", tbl.Tasks[0].CurrentPriority, tbl.Tasks[0].Priority)
	}
}

func TestMutexReleaseIfOwnedWakesNextWaiter(t *testing.T) {
	tbl := makeTable(t, 5, 5)
	m := NewMutex()
	m.Lock(tbl, 0, false)
	m.Lock(tbl, 1, false)

	woken := m.ReleaseIfOwned(0)
	if woken != 1 {
		t.Errorf("woken = %d, want 1", woken)
	}
	if m.LockedBy != 1 {
		t.Errorf("LockedBy = %d, want 1", m.LockedBy)
	}
}

func TestMutexReleaseIfOwnedByNonOwnerIsNoOp(t *testing.T) {
	tbl := makeTable(t, 5, 5)
	m := NewMutex()
	m.Lock(tbl, 0, false)
	if woken := m.ReleaseIfOwned(1); woken != -1 {
		t.Errorf("woken = %d, want -1", woken)
	}
}

func TestMutexRemoveWaiterDeletesFromQueue(t *testing.T) {
	tbl := makeTable(t, 5, 5, 5)
	m := NewMutex()
	m.Lock(tbl, 0, false)
	m.Lock(tbl, 1, false)
	m.Lock(tbl, 2, false)

	m.RemoveWaiter(1)

	woken := m.Unlock(tbl, 0, false)
	if woken != 2 {
		t.Errorf("Unlock after removing waiter 1 woke %d, want 2", woken)
	}
}

func TestSemaphoreWaitNonZeroCountDoesNotBlock(t *testing.T) {
	s := NewSemaphore(1)
	if blocked := s.Wait(0); blocked {
		t.Error("Wait on a positive-count semaphore must not block")
	}
	if s.Count != 0 {
		t.Errorf("Count = %d, want 0", s.Count)
	}
}

func TestSemaphoreWaitZeroCountBlocks(t *testing.T) {
	s := NewSemaphore(0)
	if blocked := s.Wait(0); !blocked {
		t.Error("Wait on a zero-count semaphore must block")
	}
}

func TestSemaphorePostWithNoWaitersIncrementsCount(t *testing.T) {
	s := NewSemaphore(0)
	if woken := s.Post(); woken != -1 {
		t.Errorf("woken = %d, want -1", woken)
	}
	if s.Count != 1 {
		t.Errorf("Count = %d, want 1", s.Count)
	}
}

func TestSemaphorePostWakesFIFOWaiterAndCancelsCount(t *testing.T) {
	s := NewSemaphore(0)
	s.Wait(0)
	s.Wait(1)

	woken := s.Post()
	if woken != 0 {
		t.Errorf("woken = %d, want 0 (FIFO)", woken)
	}
	if s.Count != 0 {
		t.Errorf("Count = %d, want 0 (increment and wake-decrement cancel out)", s.Count)
	}

	woken = s.Post()
	if woken != 1 {
		t.Errorf("woken = %d, want 1", woken)
	}
}

func TestSemaphoreRemoveWaiterDeletesFromQueue(t *testing.T) {
	s := NewSemaphore(0)
	s.Wait(0)
	s.Wait(1)
	s.RemoveWaiter(0)

	woken := s.Post()
	if woken != 1 {
		t.Errorf("woken = %d, want 1 after removing waiter 0", woken)
	}
}
