package kernel

import (
	"fmt"
	"runtime"

	"github.com/mitchellh/colorstring"

	"preemptos/internal/task"
)

// FaultKind classifies a trapped fault the way §4.6/§7 and the source's
// faults.c ISRs do: an MPU access violation is recoverable (only the
// offending task's timeslice ends; it stays in the table, unschedulable,
// as a candidate for an explicit Kill, while everyone else keeps
// running); a usage fault, a bus fault, or a hard fault are all
// considered dead-system conditions and halt everything. faults.c's
// usageFaultIsr and busFaultIsr both end in the same while(1) hang as
// hardFaultIsr; only mpuFaultIsr clears the fault and re-arms PendSV.
type FaultKind int

const (
	FaultMPU FaultKind = iota
	FaultUsage
	FaultBus
	FaultHard
)

func (k FaultKind) String() string {
	switch k {
	case FaultMPU:
		return "MPU fault"
	case FaultUsage:
		return "usage fault"
	case FaultBus:
		return "bus fault"
	case FaultHard:
		return "hard fault"
	default:
		return "unknown fault"
	}
}

// severityColor picks the colorstring tag for a fault's console report:
// yellow for a recoverable MPU fault, red for anything that halts the
// system.
func (k FaultKind) severityColor() string {
	if k == FaultMPU {
		return "yellow"
	}
	return "red"
}

// Fault describes a trapped fault for a specific task: its kind, the
// faulting task's PID, the faulting address, and a detail string. It
// carries no register state; the report does not include PSP, MSP, a
// fault-status value, or the stacked R0-R3/R12/LR/PC/xPSR.
type Fault struct {
	Kind    FaultKind
	Task    task.PID
	Address uint32
	Detail  string
}

func (f Fault) report() string {
	return colorstring.Color(fmt.Sprintf(
		"[%s]%s in task %v at address 0x%08X: %s[reset]",
		f.Kind.severityColor(), f.Kind, f.Task, f.Address, f.Detail,
	))
}

// HandleFault processes a trapped fault for the task at idx, applying
// §4.6/§7's recoverability taxonomy. It always logs a severity-colored
// report; the caller (Handle.Read/Write, standing in for the fault ISR)
// is responsible for having identified which task faulted.
func (s *System) HandleFault(idx int, f Fault) {
	report := f.report()
	s.log.Error(report)
	s.console.Puts(report + "\n")

	switch f.Kind {
	case FaultMPU:
		// Recoverable: only the faulting task's timeslice ends. It is
		// marked faulted, not stopped — its heap allocation and identity
		// are left intact until an explicit Kill reclaims them; it is
		// merely excluded from scheduling until then. If it is the task
		// whose own goroutine is reporting the fault (the only case
		// reachable from Read/Write), hand off the baton and end that
		// goroutine immediately — it must never execute another
		// instruction after a trapped fault.
		s.mu.Lock()
		s.tasks.MarkFaulted(idx)
		if idx == s.current {
			s.contextSwitch(idx, false)
			runtime.Goexit()
		}
		s.mu.Unlock()
	case FaultUsage, FaultBus, FaultHard:
		s.Halt(fmt.Sprintf("%s in task %v: %s", f.Kind, f.Task, f.Detail))
	}
}
