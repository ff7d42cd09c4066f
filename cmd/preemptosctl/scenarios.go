package main

import (
	"context"
	"fmt"
	"log/slog"

	"preemptos/internal/gpio"
	"preemptos/internal/kernel"
)

// scenarioRoundRobin spawns two same-priority tasks and lets pure
// round-robin selection alternate between them.
func scenarioRoundRobin(log *slog.Logger) error {
	sys := kernel.New(kernel.Config{PriorityScheduler: false, Preemption: false}, log)

	const iterations = 4
	finished := 0

	body := func(name string, h kernel.Handle) {
		for i := 0; i < iterations; i++ {
			log.Info("running", "task", name, "iter", i)
			h.Yield()
		}
		finished++
		if finished == 2 {
			h.Reboot()
		}
	}

	if _, err := sys.Spawn(func(h kernel.Handle) { body("A", h) }, "A", 5, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(func(h kernel.Handle) { body("B", h) }, "B", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}

// scenarioPriorityPreempt spawns a low-priority task that loops calling
// CheckPoint (to cooperate with preemption) and a high-priority task
// that waits on a semaphore; a third task posts the semaphore, waking
// the high-priority task, which must run before the low-priority task
// resumes even though the low-priority task never blocked.
func scenarioPriorityPreempt(log *slog.Logger) error {
	sys := newDemoSystem(log, true)

	const sem = 0
	if err := sys.InitSemaphore(sem, 0); err != nil {
		return err
	}

	highRan := false

	low := func(h kernel.Handle) {
		// Long enough that the 1ms tick fires several times, so the poster
		// wakes and posts while this task is still looping.
		for i := 0; i < 2_000_000; i++ {
			h.CheckPoint()
		}
		h.Reboot()
	}
	high := func(h kernel.Handle) {
		if err := h.Wait(sem); err != nil {
			log.Error("wait failed", "err", err)
			return
		}
		highRan = true
		log.Info("high priority task woke up", "ran", highRan)
	}
	poster := func(h kernel.Handle) {
		h.Sleep(2)
		if err := h.Post(sem); err != nil {
			log.Error("post failed", "err", err)
		}
	}

	if _, err := sys.Spawn(low, "low", 10, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(high, "high", 0, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(poster, "poster", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}

// scenarioMutexContention has two tasks contend for the same mutex: the
// first to acquire it holds it across a Sleep, forcing the second to
// block and then be woken on Unlock.
func scenarioMutexContention(log *slog.Logger) error {
	sys := newDemoSystem(log, false)

	const m = 0
	finished := 0

	holder := func(h kernel.Handle) {
		if err := h.Lock(m); err != nil {
			log.Error("lock failed", "err", err)
			return
		}
		log.Info("holder acquired mutex")
		h.Sleep(3)
		if err := h.Unlock(m); err != nil {
			log.Error("unlock failed", "err", err)
		}
		log.Info("holder released mutex")
		finished++
		if finished == 2 {
			h.Reboot()
		}
	}
	waiter := func(h kernel.Handle) {
		h.Sleep(1) // let holder acquire first
		log.Info("waiter attempting lock")
		if err := h.Lock(m); err != nil {
			log.Error("lock failed", "err", err)
			return
		}
		log.Info("waiter acquired mutex")
		if err := h.Unlock(m); err != nil {
			log.Error("unlock failed", "err", err)
		}
		finished++
		if finished == 2 {
			h.Reboot()
		}
	}

	if _, err := sys.Spawn(holder, "holder", 5, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(waiter, "waiter", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}

// scenarioProducerConsumer has a producer post a semaphore several
// times and a consumer wait on it the same number of times, exercising
// the FIFO wake order when the consumer blocks first.
func scenarioProducerConsumer(log *slog.Logger) error {
	sys := newDemoSystem(log, false)

	const sem = 0
	if err := sys.InitSemaphore(sem, 0); err != nil {
		return err
	}
	const items = 3
	produced, consumed := 0, 0

	consumer := func(h kernel.Handle) {
		for i := 0; i < items; i++ {
			if err := h.Wait(sem); err != nil {
				log.Error("wait failed", "err", err)
				return
			}
			consumed++
			log.Info("consumed", "count", consumed)
		}
	}
	producer := func(h kernel.Handle) {
		for i := 0; i < items; i++ {
			h.Sleep(1)
			produced++
			log.Info("produced", "count", produced)
			if err := h.Post(sem); err != nil {
				log.Error("post failed", "err", err)
			}
		}
		h.Sleep(2)
		h.Reboot()
	}

	if _, err := sys.Spawn(consumer, "consumer", 5, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(producer, "producer", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}

// scenarioMallocKill has a task allocate heap memory, write through the
// granted window, then get killed by a supervisor task; the kill must
// reclaim the allocation so a later allocation of the same size
// succeeds.
func scenarioMallocKill(log *slog.Logger) error {
	sys := newDemoSystem(log, false)

	worker := func(h kernel.Handle) {
		buf, err := h.Malloc(256)
		if err != nil {
			log.Error("malloc failed", "err", err)
			return
		}
		copy(buf, "hello")
		h.Sleep(10) // give the supervisor a chance to kill us
	}
	supervisor := func(h kernel.Handle) {
		h.Sleep(1)
		pid, ok := h.PIDOf("worker")
		if !ok {
			log.Error("worker not found")
			h.Reboot()
			return
		}
		if err := h.Kill(pid); err != nil {
			log.Error("kill failed", "err", err)
		}
		log.Info("worker killed, heap reclaimed")
		h.Reboot()
	}

	if _, err := sys.Spawn(worker, "worker", 5, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(supervisor, "supervisor", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}

// scenarioMPUFault has a task allocate a small heap block and then
// attempt to write past the end of its granted window, which must trap
// as a recoverable MPU fault: the offending task stops, the system
// keeps running.
func scenarioMPUFault(log *slog.Logger) error {
	sys := newDemoSystem(log, false)

	faulting := func(h kernel.Handle) {
		base, err := h.MallocAddr(64)
		if err != nil {
			log.Error("malloc failed", "err", err)
			return
		}
		// The 64-byte request is granted one whole 512-byte small-class
		// subregion, so base+512 is one byte past the granted window: it
		// traps as an MPU fault, stopping this task, rather than silently
		// corrupt memory. Write never returns here; the fault handler ends
		// this goroutine.
		h.Write(base+512, []byte{0xFF})
	}
	supervisor := func(h kernel.Handle) {
		h.Sleep(3)
		log.Info("system survived the faulting task")
		h.Reboot()
	}

	if _, err := sys.Spawn(faulting, "faulting", 5, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(supervisor, "supervisor", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}

// scenarioGPIOBlink has a blinker task drive an LED output pin while a
// button-gated task samples an input pin and posts a semaphore once it
// observes the button pressed, exercising the §6 GPIO collaborator
// alongside ordinary semaphore signaling.
func scenarioGPIOBlink(log *slog.Logger) error {
	sys := newDemoSystem(log, false)

	const (
		ledPin    = 0
		buttonPin = 1
		sem       = 0
	)
	if err := sys.InitSemaphore(sem, 0); err != nil {
		return err
	}

	blinker := func(h kernel.Handle) {
		bank := h.GPIO()
		if err := bank.SetOutput(ledPin); err != nil {
			log.Error("configure led pin failed", "err", err)
			return
		}
		on := false
		for i := 0; i < 6; i++ {
			on = !on
			if err := bank.Write(ledPin, on); err != nil {
				log.Error("write led pin failed", "err", err)
				return
			}
			h.Console().Puts(fmt.Sprintf("led=%v\n", on))
			h.Sleep(1)
		}
		if err := h.Wait(sem); err != nil {
			log.Error("wait failed", "err", err)
		}
		log.Info("blinker observed the button press")
		h.Reboot()
	}
	button := func(h kernel.Handle) {
		bank := h.GPIO()
		if err := bank.SetInput(buttonPin); err != nil {
			log.Error("configure button pin failed", "err", err)
			return
		}
		h.Sleep(3)
		if sim, ok := bank.(*gpio.SimBank); ok {
			sim.SetForTest(buttonPin, true)
		}
		pressed, err := bank.Read(buttonPin)
		if err != nil {
			log.Error("read button pin failed", "err", err)
			return
		}
		log.Info("button sampled", "pressed", pressed)
		if pressed {
			if err := h.Post(sem); err != nil {
				log.Error("post failed", "err", err)
			}
		}
	}

	if _, err := sys.Spawn(blinker, "blinker", 5, demoStackSize); err != nil {
		return err
	}
	if _, err := sys.Spawn(button, "button", 5, demoStackSize); err != nil {
		return err
	}

	return sys.Run(context.Background())
}
