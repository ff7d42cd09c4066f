// Package task defines the task-control-block table described in §3 of
// the specification: a fixed-size array of TCBs, a typed state machine,
// and the PID-as-entry-address identity convention.
//
// Grounded on struct _tcb in the source's kernel.c and on the
// teacher's CPU struct-of-fields style in rv64/cpu.go.
package task

import (
	"fmt"
	"reflect"

	"preemptos/internal/cpuregs"
	"preemptos/internal/heap"
	"preemptos/internal/mpu"
)

// MaxTasks bounds the fixed task table, mirroring the source's
// MAX_TASKS-sized tcb array.
const MaxTasks = 16

// NumPriorities is the number of distinct priority levels the scheduler
// recognizes, 0 being highest.
const NumPriorities = 16

// State is a task's position in the lifecycle state machine of §3.
type State uint8

const (
	StateInvalid State = iota
	StateStopped
	StateFaulted
	StateReady
	StateDelayed
	StateBlockedMutex
	StateBlockedSemaphore
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "INVALID"
	case StateStopped:
		return "STOPPED"
	case StateFaulted:
		return "FAULTED"
	case StateReady:
		return "READY"
	case StateDelayed:
		return "DELAYED"
	case StateBlockedMutex:
		return "BLOCKED_MUTEX"
	case StateBlockedSemaphore:
		return "BLOCKED_SEMAPHORE"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// PID uniquely identifies a task by its entry function's address. It is
// never dereferenced as executable code — only compared for identity —
// so deriving it from reflect.ValueOf(fn).Pointer() is safe even though
// no real function pointer ever crosses an unsafe boundary.
type PID uintptr

// PIDOf derives the PID of a task entry function. Two tasks sharing the
// same entry function would collide, exactly as two tasks sharing one
// code address would on real hardware; callers are expected to give each
// task a distinct entry point, as the source's createThread assumes.
func PIDOf(fn func(Handle)) PID {
	return PID(reflect.ValueOf(fn).Pointer())
}

// Handle is the capability a running task is given to interact with the
// kernel. package kernel's Handle type implements it and carries the
// supervisor-call-equivalent methods; task itself only defines the
// minimal shape stored in a TCB.
type Handle interface {
	PID() PID
}

// TCB is one task's control block, mirroring struct _tcb in the source
// with Go-native types in place of raw C pointers and bitfields.
type TCB struct {
	State State
	PID   PID

	Name string
	Fn   func(Handle)

	Allocated     heap.Addr
	AllocatedSize int
	StackBase     heap.Addr
	StackSize     int

	Priority        uint8
	CurrentPriority uint8 // tracks Priority unless priority inheritance raises it

	TicksRemaining uint32
	SRD            mpu.SRDMask

	MutexIndex     int // -1 when not blocked on a mutex
	SemaphoreIndex int // -1 when not blocked on a semaphore

	// CPUTime is the ping-pong accumulator described in §4.2; see
	// package cpuacct for the read/accumulate protocol.
	CPUTime [2]uint32

	// InitialFrame is the machine context a real port would have
	// auto-stacked the first time this task was dispatched; see
	// cpuregs.BuildInitialFrame. The goroutine-baton runtime never
	// unstacks it, but PS-style diagnostics can still report it.
	InitialFrame cpuregs.Context
}

// Table is the fixed-size task array of §3, plus the small amount of
// bookkeeping (current index, live count) the source keeps alongside it.
type Table struct {
	Tasks   [MaxTasks]TCB
	Current int
	Count   int
}

// NewTable returns a table with every slot in StateInvalid, matching the
// source's startup loop that sets tcb[i].state = STATE_INVALID for all i.
func NewTable() *Table {
	t := &Table{}
	for i := range t.Tasks {
		t.Tasks[i] = TCB{State: StateInvalid, MutexIndex: -1, SemaphoreIndex: -1}
	}
	return t
}

// ErrTableFull is returned by Create when every slot is already live.
var ErrTableFull = fmt.Errorf("task: table full")

// Create installs a new task in the first StateInvalid slot, mirroring
// createThread's linear scan. The returned index is stable for the
// task's lifetime and is reused once the slot returns to StateInvalid.
func (t *Table) Create(fn func(Handle), name string, priority uint8, stackSize int) (int, error) {
	if priority >= NumPriorities {
		return 0, fmt.Errorf("task: priority %d out of range", priority)
	}
	for i := range t.Tasks {
		if t.Tasks[i].State == StateInvalid {
			pid := PIDOf(fn)
			t.Tasks[i] = TCB{
				State:           StateReady,
				PID:             pid,
				Name:            name,
				Fn:              fn,
				StackSize:       stackSize,
				Priority:        priority,
				CurrentPriority: priority,
				MutexIndex:      -1,
				SemaphoreIndex:  -1,
				InitialFrame:    cpuregs.BuildInitialFrame(uint32(pid)),
			}
			t.Count++
			return i, nil
		}
	}
	return 0, ErrTableFull
}

// Invalidate fully clears a slot back to StateInvalid, for a task that
// never successfully started (e.g. its stack allocation failed) and so
// never acquired an identity worth keeping for Restart.
func (t *Table) Invalidate(index int) {
	if t.Tasks[index].State == StateInvalid {
		return
	}
	t.Tasks[index] = TCB{State: StateInvalid, MutexIndex: -1, SemaphoreIndex: -1}
	t.Count--
}

// Stop transitions a task to StateStopped, mirroring the tail of the
// source's KILL handling: the heap allocation is already freed by the
// caller, mutex/semaphore/ticks bookkeeping is cleared, but name, PID,
// Fn, and priority survive so a later Restart can find and relaunch the
// task by name.
func (t *Table) Stop(index int) {
	tcb := &t.Tasks[index]
	if tcb.State == StateInvalid {
		return
	}
	tcb.State = StateStopped
	tcb.MutexIndex = -1
	tcb.SemaphoreIndex = -1
	tcb.TicksRemaining = 0
	tcb.Allocated = 0
	tcb.AllocatedSize = 0
	tcb.StackBase = 0
	tcb.SRD = 0
}

// MarkFaulted excludes a task from scheduling after an MPU violation
// without otherwise disturbing it, mirroring §4.6's "offending task
// remains until killed" and §7's "becomes a candidate for kill": unlike
// Stop, the heap allocation, SRD mask, and mutex/semaphore bookkeeping
// are left exactly as they were, so an explicit Kill later finds real
// work to do (freeing the allocation, transitioning to StateStopped)
// rather than a no-op against an already-stopped slot.
func (t *Table) MarkFaulted(index int) {
	tcb := &t.Tasks[index]
	if tcb.State == StateInvalid {
		return
	}
	tcb.State = StateFaulted
}

// ByPID finds a task's table index by PID, mirroring the linear "while
// (tcb[i].pid != fn)" scans the source performs before RESTART, KILL, and
// SET_PRIO.
func (t *Table) ByPID(pid PID) (int, bool) {
	for i := range t.Tasks {
		if t.Tasks[i].State != StateInvalid && t.Tasks[i].PID == pid {
			return i, true
		}
	}
	return 0, false
}

// ByName finds a task's index by name, matching any slot that is not
// StateInvalid (stopped or not); Restart uses it and then checks that the
// slot is stopped.
func (t *Table) ByName(name string) (int, bool) {
	for i := range t.Tasks {
		if t.Tasks[i].State != StateInvalid && t.Tasks[i].Name == name {
			return i, true
		}
	}
	return 0, false
}
