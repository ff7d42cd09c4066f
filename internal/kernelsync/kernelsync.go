// Package kernelsync implements the mutex and semaphore primitives of
// §4.5: fixed-capacity FIFO waiter queues with optional priority
// inheritance on mutex ownership.
//
// Grounded on the LOCK/UNLOCK/WAIT/POST handling in the source's
// kernel.c, including its KILL-time queue compaction.
package kernelsync

import "preemptos/internal/task"

// MaxMutexes and MaxSemaphores bound the fixed object tables, mirroring
// the source's MAX_MUTEXES/MAX_SEMAPHORES arrays.
const (
	MaxMutexes    = 4
	MaxSemaphores = 4
)

// maxQueueSize bounds a single object's FIFO waiter queue. No object can
// have more waiters than there are tasks.
const maxQueueSize = task.MaxTasks

// Mutex is one entry of the fixed mutex table.
type Mutex struct {
	Locked   bool
	LockedBy int // task index; meaningless when !Locked
	Queue    []int
}

// Semaphore is one entry of the fixed semaphore table.
type Semaphore struct {
	Count int
	Queue []int
}

// NewMutex returns an unlocked mutex with an empty waiter queue.
func NewMutex() *Mutex {
	return &Mutex{LockedBy: -1, Queue: make([]int, 0, maxQueueSize)}
}

// NewSemaphore returns a semaphore with the given initial count.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{Count: count, Queue: make([]int, 0, maxQueueSize)}
}

// Lock attempts to acquire m on behalf of taskIndex. If the mutex is
// free, it is acquired immediately and Lock returns blocked=false. If
// held, taskIndex is appended to the FIFO queue and Lock returns
// blocked=true; the caller is responsible for moving that task to
// task.StateBlockedMutex.
//
// When priorityInheritance is set and the acquiring attempt blocks, the
// current holder's CurrentPriority is raised to taskIndex's priority if
// that would be higher (lower numeric value), preventing a low-priority
// holder from being preempted by an unrelated medium-priority task while
// a high-priority task waits on it.
func (m *Mutex) Lock(t *task.Table, taskIndex int, priorityInheritance bool) (blocked bool) {
	if !m.Locked {
		m.Locked = true
		m.LockedBy = taskIndex
		return false
	}
	m.Queue = append(m.Queue, taskIndex)
	if priorityInheritance {
		holder := &t.Tasks[m.LockedBy]
		waiter := &t.Tasks[taskIndex]
		if waiter.CurrentPriority < holder.CurrentPriority {
			holder.CurrentPriority = waiter.CurrentPriority
		}
	}
	return true
}

// Unlock releases m on behalf of taskIndex. If taskIndex is not the
// current holder, Unlock is a no-op (the source silently ignores an
// UNLOCK from a non-owner). If the queue is non-empty, ownership
// transfers directly to the task at the front and that task's index is
// returned so the caller can move it to task.StateReady; otherwise
// woken is -1.
//
// When priorityInheritance is set, the outgoing holder's CurrentPriority
// is restored to its base Priority, since any boost it was carrying was
// only for this mutex's benefit.
func (m *Mutex) Unlock(t *task.Table, taskIndex int, priorityInheritance bool) (woken int) {
	if !m.Locked || m.LockedBy != taskIndex {
		return -1
	}
	if priorityInheritance {
		t.Tasks[taskIndex].CurrentPriority = t.Tasks[taskIndex].Priority
	}
	if len(m.Queue) == 0 {
		m.Locked = false
		m.LockedBy = -1
		return -1
	}
	next := m.Queue[0]
	m.Queue = m.Queue[1:]
	m.LockedBy = next
	return next
}

// ReleaseIfOwned force-releases m if it is held by taskIndex, used when
// killing a task that currently owns a mutex (§4.4). It has the same
// ownership-transfer behavior as Unlock but never checks the caller's
// own state, since a killed task cannot make the UNLOCK call itself.
func (m *Mutex) ReleaseIfOwned(taskIndex int) (woken int) {
	if !m.Locked || m.LockedBy != taskIndex {
		return -1
	}
	if len(m.Queue) == 0 {
		m.Locked = false
		m.LockedBy = -1
		return -1
	}
	next := m.Queue[0]
	m.Queue = m.Queue[1:]
	m.LockedBy = next
	return next
}

// RemoveWaiter deletes taskIndex from m's queue if present, used when
// killing a task blocked on a mutex it does not own.
func (m *Mutex) RemoveWaiter(taskIndex int) {
	m.Queue = removeFirst(m.Queue, taskIndex)
}

// Wait attempts to decrement s on behalf of taskIndex. If the count is
// positive, it is decremented and Wait returns blocked=false. Otherwise
// taskIndex is queued and Wait returns blocked=true.
func (s *Semaphore) Wait(taskIndex int) (blocked bool) {
	if s.Count > 0 {
		s.Count--
		return false
	}
	s.Queue = append(s.Queue, taskIndex)
	return true
}

// Post increments s. If a task is waiting, the count increment and the
// wake cancel out exactly as in the source (count++ then, if a waiter
// exists, count-- again) and the woken task's index is returned so the
// caller can move it to task.StateReady; otherwise woken is -1.
func (s *Semaphore) Post() (woken int) {
	s.Count++
	if len(s.Queue) == 0 {
		return -1
	}
	next := s.Queue[0]
	s.Queue = s.Queue[1:]
	s.Count--
	return next
}

// RemoveWaiter deletes taskIndex from s's queue if present, used when
// killing a task blocked on a semaphore.
func (s *Semaphore) RemoveWaiter(taskIndex int) {
	s.Queue = removeFirst(s.Queue, taskIndex)
}

func removeFirst(queue []int, v int) []int {
	for i, q := range queue {
		if q == v {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
