// Package sched implements the task picker of §4.1: a shared rotating
// cursor scanned either for the highest-ready-priority match (priority
// mode) or for the next ready task regardless of priority (round-robin
// mode).
//
// Grounded on rtosScheduler in the source's kernel.c; the cursor-plus-
// rescan loop is carried over unchanged, only reworked against
// task.Table instead of a raw tcb array.
package sched

import "preemptos/internal/task"

// Scheduler holds the single rotating cursor both scheduling modes
// share, exactly as the source's rtosScheduler keeps one static task
// variable regardless of which mode is active.
type Scheduler struct {
	cursor int // last dispatched index; starts at -1 so the first scan begins at 0

	PriorityMode bool // true: priority with round-robin tie-break. false: pure round-robin.
}

// New returns a scheduler in priority mode, matching the source's default
// priorityScheduler = true.
func New() *Scheduler {
	return &Scheduler{cursor: -1, PriorityMode: true}
}

// PickNext advances the cursor and returns the index of the task to
// dispatch next. It returns ok=false only if no task is StateReady.
func (s *Scheduler) PickNext(t *task.Table) (index int, ok bool) {
	if s.PriorityMode {
		return s.pickPriority(t)
	}
	return s.pickRoundRobin(t)
}

func (s *Scheduler) pickPriority(t *task.Table) (int, bool) {
	highest := uint8(task.NumPriorities)
	anyReady := false
	for i := range t.Tasks {
		if t.Tasks[i].State == task.StateReady {
			anyReady = true
			if t.Tasks[i].CurrentPriority < highest {
				highest = t.Tasks[i].CurrentPriority
			}
		}
	}
	if !anyReady {
		return 0, false
	}

	cursor := s.cursor
	for i := 0; i < task.MaxTasks; i++ {
		cursor = (cursor + 1) % task.MaxTasks
		tcb := &t.Tasks[cursor]
		if tcb.State == task.StateReady && tcb.CurrentPriority == highest {
			s.cursor = cursor
			return cursor, true
		}
	}
	return 0, false
}

func (s *Scheduler) pickRoundRobin(t *task.Table) (int, bool) {
	anyReady := false
	for i := range t.Tasks {
		if t.Tasks[i].State == task.StateReady {
			anyReady = true
			break
		}
	}
	if !anyReady {
		return 0, false
	}

	cursor := s.cursor
	for i := 0; i < task.MaxTasks; i++ {
		cursor = (cursor + 1) % task.MaxTasks
		if t.Tasks[cursor].State == task.StateReady {
			s.cursor = cursor
			return cursor, true
		}
	}
	return 0, false
}
