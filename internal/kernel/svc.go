package kernel

import (
	"fmt"
	"runtime"

	"preemptos/internal/cpuregs"
	"preemptos/internal/gpio"
	"preemptos/internal/heap"
	"preemptos/internal/mpu"
	"preemptos/internal/task"
	"preemptos/internal/uart"
)

// CallNumber enumerates the service calls of §4.4, numbered exactly as
// the source's Service Call Number defines (START through PIDOF,
// 0x00-0x0F).
type CallNumber uint8

const (
	CallStart CallNumber = iota
	CallRestart
	CallSetPriority
	CallYield
	CallSleep
	CallLock
	CallUnlock
	CallWait
	CallPost
	CallMalloc
	CallReboot
	CallPS
	CallKill
	CallPreempt
	CallSched
	CallPIDOf
)

func (c CallNumber) String() string {
	names := [...]string{
		"START", "RESTART", "SET_PRIO", "YIELD", "SLEEP", "LOCK", "UNLOCK",
		"WAIT", "POST", "MALLOC", "REBOOT", "PS", "KILL", "PREEMPT", "SCHED", "PIDOF",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("CallNumber(%d)", uint8(c))
}

// Handle is the capability a task's entry function receives. Every
// method traps into the same critical section the source's svCallIsr
// switch statement occupies; Go's goroutine-baton model replaces the
// PendSV exception with an explicit contextSwitch call.
type Handle struct {
	sys   *System
	index int
}

// PID returns this task's identity, usable with Kill, SetPriority, and
// Restart from another task.
func (h Handle) PID() task.PID {
	h.sys.mu.Lock()
	defer h.sys.mu.Unlock()
	return h.sys.tasks.Tasks[h.index].PID
}

// Console returns the §6 UART collaborator backing this system, for
// tasks that write their own diagnostics or read operator input
// directly rather than through a numbered service call.
func (h Handle) Console() uart.Device {
	return h.sys.console
}

// GPIO returns the §6 GPIO collaborator backing this system.
func (h Handle) GPIO() gpio.Bank {
	return h.sys.gpio
}

// Yield voluntarily gives up the remainder of this task's slice
// (CallYield / CallNumber 0x03).
func (h Handle) Yield() {
	s := h.sys
	s.mu.Lock()
	s.checkpoint(h.index)
	s.contextSwitch(h.index, true)
}

// Sleep blocks this task for the given number of ticks (CallSleep /
// 0x04), mirroring tcb[taskCurrent].ticks = getR0(); state = DELAYED.
func (h Handle) Sleep(ticks uint32) {
	s := h.sys
	s.mu.Lock()
	s.checkpoint(h.index)
	tcb := &s.tasks.Tasks[h.index]
	tcb.TicksRemaining = ticks
	tcb.State = task.StateDelayed
	s.contextSwitch(h.index, true)
}

// CheckPoint gives the tick handler a chance to displace this task if a
// preemptive switch is pending, without making any other kernel call.
// Long-running tasks that never Sleep, Lock, or Wait should call this
// periodically under preemptive scheduling.
func (h Handle) CheckPoint() {
	s := h.sys
	s.mu.Lock()
	if !s.switchPending.Load() {
		s.mu.Unlock()
		return
	}
	s.contextSwitch(h.index, true)
}

// Lock acquires mutex m, blocking if it is already held (CallLock /
// 0x05).
func (h Handle) Lock(m int) error {
	s := h.sys
	s.mu.Lock()
	s.checkpoint(h.index)
	if m < 0 || m >= len(s.mutexes) {
		s.mu.Unlock()
		return fmt.Errorf("kernel: mutex %d out of range: %w", m, ErrInvalidArgument)
	}
	tcb := &s.tasks.Tasks[h.index]
	blocked := s.mutexes[m].Lock(s.tasks, h.index, s.priorityInheritance)
	if !blocked {
		s.mu.Unlock()
		return nil
	}
	tcb.MutexIndex = m
	tcb.State = task.StateBlockedMutex
	s.contextSwitch(h.index, true)
	return nil
}

// Unlock releases mutex m if this task holds it (CallUnlock / 0x06).
func (h Handle) Unlock(m int) error {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(h.index)
	if m < 0 || m >= len(s.mutexes) {
		return fmt.Errorf("kernel: mutex %d out of range: %w", m, ErrInvalidArgument)
	}
	woken := s.mutexes[m].Unlock(s.tasks, h.index, s.priorityInheritance)
	if woken >= 0 {
		s.wake(woken)
		s.tasks.Tasks[woken].MutexIndex = -1
	}
	return nil
}

// Wait decrements semaphore sm, blocking if its count is zero (CallWait
// / 0x07).
func (h Handle) Wait(sm int) error {
	s := h.sys
	s.mu.Lock()
	s.checkpoint(h.index)
	if sm < 0 || sm >= len(s.semaphores) {
		s.mu.Unlock()
		return fmt.Errorf("kernel: semaphore %d out of range: %w", sm, ErrInvalidArgument)
	}
	tcb := &s.tasks.Tasks[h.index]
	blocked := s.semaphores[sm].Wait(h.index)
	if !blocked {
		s.mu.Unlock()
		return nil
	}
	tcb.SemaphoreIndex = sm
	tcb.State = task.StateBlockedSemaphore
	s.contextSwitch(h.index, true)
	return nil
}

// Post increments semaphore sm, waking one waiter if any (CallPost /
// 0x08).
func (h Handle) Post(sm int) error {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(h.index)
	if sm < 0 || sm >= len(s.semaphores) {
		return fmt.Errorf("kernel: semaphore %d out of range: %w", sm, ErrInvalidArgument)
	}
	woken := s.semaphores[sm].Post()
	if woken >= 0 {
		s.wake(woken)
		s.tasks.Tasks[woken].SemaphoreIndex = -1
	}
	return nil
}

// Malloc allocates sizeBytes from the heap on this task's behalf,
// extends its SRD mask with the new window, and returns a slice over the
// allocated bytes (CallMalloc / 0x09).
func (h Handle) Malloc(sizeBytes int) ([]byte, error) {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(h.index)

	tcb := &s.tasks.Tasks[h.index]
	base, err := s.heap.Allocate(sizeBytes, uint64(tcb.PID))
	if err != nil {
		return nil, mapHeapErr(err)
	}
	region, start, count, ok := s.heap.Window(base)
	if !ok {
		return nil, fmt.Errorf("kernel: no MPU window for new allocation")
	}
	if err := mpu.AddAccessWindow(&tcb.SRD, region, start, count); err != nil {
		return nil, err
	}
	s.applyCurrentMask()
	return s.heap.Bytes(base, sizeBytes)
}

// MallocAddr is Malloc's address-returning twin: instead of a direct
// slice it returns the heap.Addr so the caller can exercise Read/Write,
// which apply the same subregion-ownership check a real MPU fault would.
func (h Handle) MallocAddr(sizeBytes int) (heap.Addr, error) {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(h.index)

	tcb := &s.tasks.Tasks[h.index]
	base, err := s.heap.Allocate(sizeBytes, uint64(tcb.PID))
	if err != nil {
		return 0, mapHeapErr(err)
	}
	region, start, count, ok := s.heap.Window(base)
	if !ok {
		return 0, fmt.Errorf("kernel: no MPU window for new allocation")
	}
	if err := mpu.AddAccessWindow(&tcb.SRD, region, start, count); err != nil {
		return 0, err
	}
	s.applyCurrentMask()
	return base, nil
}

// Free releases a heap allocation obtained from Malloc. Not one of the
// source's sixteen call numbers (the source only ever frees at KILL
// time); exposed here since an explicit free is ordinary Go-idiomatic
// resource management and the heap supports it directly.
func (h Handle) Free(base heap.Addr) {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heap.Free(base)
}

// Restart reloads and restarts a stopped task by name (CallRestart /
// 0x01).
func (h Handle) Restart(name string) error {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(h.index)

	idx, ok := s.tasks.ByName(name)
	if !ok {
		return fmt.Errorf("kernel: no task named %q: %w", name, ErrInvalidArgument)
	}
	tcb := &s.tasks.Tasks[idx]
	if tcb.State != task.StateStopped {
		return fmt.Errorf("kernel: task %q is %v, not stopped: %w", name, tcb.State, ErrInvalidArgument)
	}
	base, err := s.heap.Allocate(tcb.StackSize, uint64(tcb.PID))
	if err != nil {
		return fmt.Errorf("kernel: restart %q: %w", name, mapHeapErr(err))
	}
	tcb.Allocated = base
	tcb.StackBase = base
	var mask mpu.SRDMask
	region, start, count, ok := s.heap.Window(base)
	if !ok {
		return fmt.Errorf("kernel: restart %q: no MPU window", name)
	}
	if err := mpu.AddAccessWindow(&mask, region, start, count); err != nil {
		return err
	}
	tcb.SRD = mask
	tcb.State = task.StateReady

	s.batons[idx] = make(chan struct{}, 1)
	s.wg.Add(1)
	go func(i int) {
		defer s.wg.Done()
		<-s.batons[i]
		// A Kill reaching this task before its first post-restart dispatch
		// wakes this receive solely so the goroutine can retire cleanly;
		// see Kill's wake of a parked victim.
		s.mu.Lock()
		stopped := s.tasks.Tasks[i].State == task.StateStopped
		s.mu.Unlock()
		if stopped {
			return
		}
		s.tasks.Tasks[i].Fn(Handle{sys: s, index: i})
		s.selfExit(i)
	}(idx)
	return nil
}

// SetPriority changes pid's base priority (CallSetPriority / 0x02).
func (h Handle) SetPriority(pid task.PID, priority uint8) error {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint(h.index)

	idx, ok := s.tasks.ByPID(pid)
	if !ok {
		return fmt.Errorf("kernel: no task with pid %v: %w", pid, ErrInvalidArgument)
	}
	if priority >= task.NumPriorities {
		return fmt.Errorf("kernel: priority %d out of range: %w", priority, ErrInvalidArgument)
	}
	s.tasks.Tasks[idx].Priority = priority
	s.tasks.Tasks[idx].CurrentPriority = priority
	return nil
}

// Kill stops the task identified by pid, releasing any mutex it holds
// (waking the next waiter), removing it from any queue it was blocked
// in, and freeing its heap allocations (CallKill / 0x0C).
func (h Handle) Kill(pid task.PID) error {
	s := h.sys
	s.mu.Lock()
	s.checkpoint(h.index)

	idx, ok := s.tasks.ByPID(pid)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("kernel: no task with pid %v: %w", pid, ErrInvalidArgument)
	}
	tcb := &s.tasks.Tasks[idx]
	alreadyStopped := tcb.State == task.StateStopped

	for _, m := range s.mutexes {
		if woken := m.ReleaseIfOwned(idx); woken >= 0 {
			s.wake(woken)
			s.tasks.Tasks[woken].MutexIndex = -1
		}
	}
	if tcb.State == task.StateBlockedMutex && tcb.MutexIndex >= 0 {
		s.mutexes[tcb.MutexIndex].RemoveWaiter(idx)
	}
	if tcb.State == task.StateBlockedSemaphore && tcb.SemaphoreIndex >= 0 {
		s.semaphores[tcb.SemaphoreIndex].RemoveWaiter(idx)
	}

	s.heap.FreeAllOwnedBy(uint64(tcb.PID))
	s.tasks.Stop(idx)

	if idx == h.index {
		// This task is killing itself: hand off the baton and exit the
		// goroutine now, so the wrapper spawned by Spawn never runs its
		// fn-returned cleanup path a second time.
		s.contextSwitch(h.index, false)
		runtime.Goexit()
		return nil
	}
	if !alreadyStopped {
		// The victim's goroutine is parked on its own baton — either the
		// Spawn/Restart wrapper's initial receive (never yet dispatched)
		// or contextSwitch's resumeSelf receive (blocked on a prior
		// Sleep/Lock/Wait). Wake it now purely so it observes its own
		// StateStopped and retires; it never reaches task code again.
		s.batons[idx] <- struct{}{}
	}
	s.mu.Unlock()
	return nil
}

// Reboot stops the system gracefully, mirroring the source's REBOOT call
// forcing a hardware reset (CallReboot / 0x0A). There is no hardware to
// reset here: Run returns nil and resets the System so it can be given a
// fresh task set and run again.
func (h Handle) Reboot() {
	h.sys.Shutdown()
}

// ProcessStatus is one row of the PS report (CallPS / 0x0B), mirroring
// struct _ps in the source.
type ProcessStatus struct {
	TaskIndex    int
	PID          task.PID
	Name         string
	State        task.State
	Priority     uint8
	CPUTime      uint32
	InitialFrame cpuregs.Context
}

// PS returns a snapshot of every live task, reading each one's stable
// (non-active) CPU-time buffer.
func (h Handle) PS() []ProcessStatus {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ProcessStatus
	for i := range s.tasks.Tasks {
		tcb := &s.tasks.Tasks[i]
		if tcb.State == task.StateInvalid {
			continue
		}
		out = append(out, ProcessStatus{
			TaskIndex:    i,
			PID:          tcb.PID,
			Name:         tcb.Name,
			State:        tcb.State,
			Priority:     tcb.Priority,
			CPUTime:      s.acct.Stable(tcb),
			InitialFrame: tcb.InitialFrame,
		})
	}
	return out
}

// SetPreemption switches between preemptive and cooperative scheduling
// (CallPreempt / 0x0D).
func (h Handle) SetPreemption(enabled bool) {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preemption = enabled
}

// SetScheduler switches between priority and round-robin task selection
// (CallSched / 0x0E).
func (h Handle) SetScheduler(priorityMode bool) {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.PriorityMode = priorityMode
}

// PIDOf looks up a task's PID by name (CallPIDOf / 0x0F).
func (h Handle) PIDOf(name string) (task.PID, bool) {
	s := h.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks.Tasks {
		if s.tasks.Tasks[i].State != task.StateInvalid && s.tasks.Tasks[i].Name == name {
			return s.tasks.Tasks[i].PID, true
		}
	}
	return 0, false
}

// wake transitions a blocked task back to ready. Must be called with
// s.mu held.
func (s *System) wake(idx int) {
	s.tasks.Tasks[idx].State = task.StateReady
}
