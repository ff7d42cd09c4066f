// Package kernel wires the scheduler, heap, MPU, and synchronization
// primitives into a runnable system: task goroutines pass a single
// baton token between one another so that, as on the single-core target
// this kernel models, exactly one task executes at a time.
//
// Grounded on the systickIsr/pendSvIsr/svCallIsr triad in the source's
// kernel.c, and on the teacher's Run-loop lifecycle in
// rv64/hypervisor.go (VirtualCPU.Run) for the errgroup-managed
// tick-goroutine-plus-dispatch-loop shape.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"preemptos/internal/cpuacct"
	"preemptos/internal/cpuregs"
	"preemptos/internal/gpio"
	"preemptos/internal/heap"
	"preemptos/internal/kernelsync"
	"preemptos/internal/mpu"
	"preemptos/internal/sched"
	"preemptos/internal/task"
	"preemptos/internal/uart"
)

// Sentinel errors for the calls that can fail, per §7. The blocking
// calls never fail by blocking: Sleep returns nothing, and Lock and Wait
// return an error only for an out-of-range mutex or semaphore index.
var (
	ErrResourceExhausted = fmt.Errorf("kernel: resource exhausted")
	ErrInvalidArgument   = fmt.Errorf("kernel: invalid argument")
)

// mapHeapErr classifies a package-heap error as exhaustion (no
// contiguous run, or no slot in the metadata table) or a bad argument
// (a size no class can satisfy), wrapping the matching kernel sentinel
// alongside the original error.
func mapHeapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, heap.ErrExhausted) {
		return fmt.Errorf("%w: %w", err, ErrResourceExhausted)
	}
	return fmt.Errorf("%w: %w", err, ErrInvalidArgument)
}

// TickInterval is the period of the simulated system timer, standing in
// for the source's 1ms SysTick configuration.
const TickInterval = time.Millisecond

// System owns every piece of kernel state: the task table, scheduler,
// heap, MPU manager, and sync object tables, guarded by a single mutex
// that plays the role of "currently running on the one core."
type System struct {
	mu sync.Mutex

	tasks   *task.Table
	sched   *sched.Scheduler
	heap    *heap.Allocator
	mpu     *mpu.Manager
	acct    *cpuacct.Accumulator
	console uart.Device
	gpio    gpio.Bank

	mutexes    [kernelsync.MaxMutexes]*kernelsync.Mutex
	semaphores [kernelsync.MaxSemaphores]*kernelsync.Semaphore

	priorityInheritance bool
	preemption          bool
	switchPending       atomic.Bool

	current      int // index into tasks.Tasks; -1 when no task has run yet
	runningSince time.Time

	batons  [task.MaxTasks]chan struct{}
	started [task.MaxTasks]bool
	wg      sync.WaitGroup

	halted       atomic.Bool
	haltCause    string
	haltGraceful bool
	done         chan struct{}

	log *slog.Logger

	Config Config
}

// Config carries the boot-time options: the same scheduling,
// inheritance, and preemption switches package bootcfg reads from a file.
type Config struct {
	PriorityScheduler   bool
	PriorityInheritance bool
	Preemption          bool

	// Console and GPIO back the §6 external collaborators. A nil
	// Console defaults to an in-memory uart.FIFO; a nil GPIO defaults
	// to a 32-pin gpio.SimBank.
	Console uart.Device
	GPIO    gpio.Bank
}

// defaultGPIOPins sizes the default SimBank when Config.GPIO is nil.
const defaultGPIOPins = 32

// New returns a fresh, unstarted system. cfg configures the initial
// scheduling mode, matching the source's priorityScheduler/
// priorityInheritance/preemption globals.
func New(cfg Config, log *slog.Logger) *System {
	if log == nil {
		log = slog.Default()
	}
	console := cfg.Console
	if console == nil {
		console = uart.NewFIFO()
	}
	bank := cfg.GPIO
	if bank == nil {
		bank = gpio.NewSimBank(defaultGPIOPins)
	}

	s := &System{
		tasks:               task.NewTable(),
		sched:               sched.New(),
		heap:                heap.NewAllocator(),
		mpu:                 mpu.NewManager(),
		acct:                cpuacct.New(),
		console:             console,
		gpio:                bank,
		priorityInheritance: cfg.PriorityInheritance,
		preemption:          cfg.Preemption,
		current:             -1,
		done:                make(chan struct{}),
		log:                 log,
		Config:              cfg,
	}
	s.sched.PriorityMode = cfg.PriorityScheduler
	for i := range s.mutexes {
		s.mutexes[i] = kernelsync.NewMutex()
	}
	for i := range s.semaphores {
		s.semaphores[i] = kernelsync.NewSemaphore(0)
	}
	return s
}

// InitSemaphore sets semaphore idx's starting count, mirroring
// initSemaphore in the source. Called during boot configuration, before
// Run starts.
func (s *System) InitSemaphore(idx int, count int) error {
	if idx < 0 || idx >= kernelsync.MaxSemaphores {
		return fmt.Errorf("kernel: semaphore %d out of range: %w", idx, ErrInvalidArgument)
	}
	s.semaphores[idx] = kernelsync.NewSemaphore(count)
	return nil
}

// Spawn creates a new task in the first free table slot and starts its
// goroutine, mirroring createThread. The task's goroutine immediately
// blocks on its own baton until the scheduler first dispatches it.
func (s *System) Spawn(fn func(Handle), name string, priority uint8, stackSize int) (task.PID, error) {
	s.mu.Lock()
	idx, err := s.tasks.Create(func(th task.Handle) { fn(th.(Handle)) }, name, priority, stackSize)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, task.ErrTableFull) {
			return 0, fmt.Errorf("%w: %w", err, ErrResourceExhausted)
		}
		return 0, fmt.Errorf("%w: %w", err, ErrInvalidArgument)
	}
	// Create derived the PID from the adapter closure, which every task
	// shares; identify the task by its own entry function instead.
	entryPID := task.PID(reflect.ValueOf(fn).Pointer())
	s.tasks.Tasks[idx].PID = entryPID
	s.tasks.Tasks[idx].InitialFrame = cpuregs.BuildInitialFrame(uint32(entryPID))

	base, err := s.heap.Allocate(stackSize, uint64(s.tasks.Tasks[idx].PID))
	if err != nil {
		s.tasks.Invalidate(idx)
		s.mu.Unlock()
		return 0, fmt.Errorf("kernel: allocating stack for %q: %w", name, mapHeapErr(err))
	}
	tcb := &s.tasks.Tasks[idx]
	tcb.Allocated = base
	tcb.AllocatedSize = stackSize
	tcb.StackBase = base
	tcb.StackSize = stackSize

	var mask mpu.SRDMask
	region, start, count, ok := s.heap.Window(base)
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("kernel: no MPU window for freshly allocated stack")
	}
	if err := mpu.AddAccessWindow(&mask, region, start, count); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	tcb.SRD = mask

	pid := tcb.PID
	s.batons[idx] = make(chan struct{}, 1)
	s.started[idx] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		<-s.batons[idx]
		// An external Kill reaching this task before its first dispatch
		// wakes this receive solely so the goroutine can retire cleanly
		// instead of ever running fn; see Kill's wake of a parked victim.
		s.mu.Lock()
		stopped := s.tasks.Tasks[idx].State == task.StateStopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn(Handle{sys: s, index: idx})
		s.selfExit(idx)
	}()

	return pid, nil
}

// Run starts the tick goroutine and performs the initial dispatch
// (mirroring the source's START service call), then blocks until the
// system halts or ctx is cancelled.
func (s *System) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-s.done:
				return nil
			case <-ticker.C:
				s.tick()
			}
		}
	})

	g.Go(func() error {
		s.mu.Lock()
		idx, ok := s.sched.PickNext(s.tasks)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("kernel: no ready task at boot")
		}
		s.current = idx
		s.runningSince = time.Now()
		s.applyCurrentMask()
		s.mu.Unlock()

		s.log.Info("kernel starting", "task", s.tasks.Tasks[idx].Name)
		s.batons[idx] <- struct{}{}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			if !s.haltGraceful {
				return fmt.Errorf("kernel: halted: %s", s.haltCause)
			}
			return nil
		}
	})

	err := g.Wait()
	if err == nil && s.haltGraceful {
		// The task that called Reboot is still unwinding back through its
		// own fn-returned selfExit cleanup; wait for every spawned
		// goroutine to finish before handing back a System safe to reuse.
		s.wg.Wait()
		s.reset()
	}
	return err
}

// reset reinitializes every piece of mutable kernel state back to its
// just-constructed configuration: the scheduling mode is restored from
// Config, while the current preemption and priority-inheritance settings
// and the console/GPIO collaborators are left untouched. Called after a graceful Shutdown (a REBOOT call) so the
// same System can be given a fresh task set and run again, matching
// §6's "Reboot resets kernel.System to its initial READY-tasks/
// empty-queues configuration."
func (s *System) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = task.NewTable()
	s.heap = heap.NewAllocator()
	s.mpu = mpu.NewManager()
	s.acct = cpuacct.New()
	s.sched = sched.New()
	s.sched.PriorityMode = s.Config.PriorityScheduler
	for i := range s.mutexes {
		s.mutexes[i] = kernelsync.NewMutex()
	}
	for i := range s.semaphores {
		s.semaphores[i] = kernelsync.NewSemaphore(0)
	}
	s.current = -1
	s.switchPending.Store(false)
	s.batons = [task.MaxTasks]chan struct{}{}
	s.started = [task.MaxTasks]bool{}
	s.halted.Store(false)
	s.haltCause = ""
	s.haltGraceful = false
	s.done = make(chan struct{})
	s.wg = sync.WaitGroup{}
}

// Halt stops the system permanently on an unrecoverable fault or on
// running out of ready tasks; Run returns an error naming cause. Safe to
// call multiple times; only the first call has effect.
func (s *System) Halt(cause string) {
	s.stop(cause, false)
}

// Shutdown stops the system on a deliberate REBOOT call; Run returns
// nil. Safe to call multiple times; only the first call has effect.
func (s *System) Shutdown() {
	s.stop("reboot requested", true)
}

func (s *System) stop(cause string, graceful bool) {
	if s.halted.CompareAndSwap(false, true) {
		s.haltCause = cause
		s.haltGraceful = graceful
		close(s.done)
	}
}

func (s *System) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted.Load() {
		return
	}

	for i := range s.tasks.Tasks {
		tcb := &s.tasks.Tasks[i]
		if tcb.State == task.StateDelayed {
			if tcb.TicksRemaining > 0 {
				tcb.TicksRemaining--
			}
			if tcb.TicksRemaining == 0 {
				tcb.State = task.StateReady
			}
		}
	}

	s.acct.Tick()

	if s.preemption {
		s.switchPending.Store(true)
	}
}

// applyCurrentMask pushes the running task's SRD mask into the MPU
// manager, mirroring applySramAccessMask(tcb[taskCurrent].srd).
func (s *System) applyCurrentMask() {
	if s.current < 0 {
		return
	}
	s.mpu.ApplyMask(s.tasks.Tasks[s.current].SRD)
}

// contextSwitch accounts the elapsed time for the outgoing task, picks
// the next ready task via the scheduler, applies its MPU mask, and hands
// the baton to it. If resumeSelf is true the caller blocks on its own
// baton until rescheduled; if false (used for a task that is exiting for
// good) the caller returns immediately and its goroutine is expected to
// end.
//
// Must be called with s.mu held; it releases the lock before blocking
// and never returns still holding it, with one exception: a resumeSelf
// caller woken by an external Kill rather than a real dispatch ends its
// goroutine via runtime.Goexit instead of returning at all, so it never
// falls back into task code after being killed out from under it.
func (s *System) contextSwitch(outgoing int, resumeSelf bool) {
	elapsed := uint32(time.Since(s.runningSince).Microseconds())
	s.acct.Accumulate(&s.tasks.Tasks[outgoing], elapsed)
	s.switchPending.Store(false)

	next, ok := s.pickNextOrWait()
	if !ok {
		s.mu.Unlock()
		s.Halt("no ready task")
		return
	}
	s.current = next
	s.runningSince = time.Now()
	s.applyCurrentMask()
	token := s.batons[next]
	s.mu.Unlock()

	token <- struct{}{}

	if resumeSelf {
		<-s.batons[outgoing]
		s.mu.Lock()
		killed := s.tasks.Tasks[outgoing].State == task.StateStopped
		s.mu.Unlock()
		if killed {
			runtime.Goexit()
		}
	}
}

// pickNextOrWait returns the next ready task. Unlike a direct
// sched.PickNext call, it accounts for there being no idle task in this
// model: if nothing is ready right now but some task is merely Delayed
// or blocked on a mutex/semaphore, it is about to become ready once the
// tick goroutine or another task's Unlock/Post/Kill wakes it, so this
// briefly releases s.mu and retries rather than treating a momentary gap
// as a permanent halt. Must be called, and always returns, with s.mu
// held. ok is false only once no live task could ever become ready
// again (or the idle wait has run far longer than any real delay
// should), in which case the caller halts the system.
func (s *System) pickNextOrWait() (int, bool) {
	const maxIdleWait = 5 * time.Second
	deadline := time.Now().Add(maxIdleWait)
	for {
		if idx, ok := s.sched.PickNext(s.tasks); ok {
			return idx, true
		}
		if !s.anyTaskCanBecomeReady() || time.Now().After(deadline) {
			return 0, false
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		s.mu.Lock()
	}
}

// anyTaskCanBecomeReady reports whether some task is merely waiting on
// time or a sync object rather than permanently stopped. Must be called
// with s.mu held.
func (s *System) anyTaskCanBecomeReady() bool {
	for i := range s.tasks.Tasks {
		switch s.tasks.Tasks[i].State {
		case task.StateDelayed, task.StateBlockedMutex, task.StateBlockedSemaphore:
			return true
		}
	}
	return false
}

// checkpoint consumes a pending preemptive switch request if one is set,
// giving the running task a chance to be displaced by the tick handler
// without Go itself interrupting it mid-instruction. Every dispatch call
// checks this first, matching the source's "if(preemption) pend PendSV"
// tick behavior with PendSV resolved at the next exception entry.
//
// Must be called with s.mu held; unlike contextSwitch, checkpoint always
// returns with s.mu held again, since callers use it mid-method with
// protected work still to do.
func (s *System) checkpoint(current int) {
	if !s.switchPending.Load() {
		return
	}
	s.contextSwitch(current, true)
	s.mu.Lock()
}

func (s *System) selfExit(idx int) {
	s.mu.Lock()
	if s.tasks.Tasks[idx].State == task.StateInvalid {
		// An invalidated slot has nothing left to tear down. (A self-Kill
		// never reaches here: it ends the goroutine via runtime.Goexit.)
		s.mu.Unlock()
		return
	}
	s.heap.FreeAllOwnedBy(uint64(s.tasks.Tasks[idx].PID))
	s.tasks.Stop(idx)
	s.contextSwitch(idx, false)
}
