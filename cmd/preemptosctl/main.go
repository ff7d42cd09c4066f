// Command preemptosctl boots the kernel with one of a handful of demo
// task sets: round-robin alternation, priority-driven preemption via a
// semaphore post, mutex contention, a producer/consumer pair over a
// semaphore, a malloc-then-kill sequence, a deliberate out-of-bounds
// write that traps as an MPU fault, and a GPIO blink/button pair.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"preemptos/internal/kernel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "preemptosctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	scenario := flag.String("scenario", "all", "Demo scenario to run: roundrobin, priority, mutex, semaphore, mallockill, mpufault, gpio, all")
	debug := flag.Bool("debug", false, "Enable debug logging")
	timeout := flag.Duration("timeout", 5*time.Second, "Maximum time a scenario may run before it is considered hung")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	scenarios := map[string]func(*slog.Logger) error{
		"roundrobin": scenarioRoundRobin,
		"priority":   scenarioPriorityPreempt,
		"mutex":      scenarioMutexContention,
		"semaphore":  scenarioProducerConsumer,
		"mallockill": scenarioMallocKill,
		"mpufault":   scenarioMPUFault,
		"gpio":       scenarioGPIOBlink,
	}

	run := func(name string, fn func(*slog.Logger) error) error {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(log.With("scenario", name)) }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return fmt.Errorf("scenario %s: %w", name, ctx.Err())
		}
	}

	if *scenario != "all" {
		fn, ok := scenarios[*scenario]
		if !ok {
			return fmt.Errorf("unknown scenario %q", *scenario)
		}
		return run(*scenario, fn)
	}

	var errs []error
	for _, name := range []string{"roundrobin", "priority", "mutex", "semaphore", "mallockill", "mpufault", "gpio"} {
		if err := run(name, scenarios[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const demoStackSize = 512

func newDemoSystem(log *slog.Logger, preemptive bool) *kernel.System {
	return kernel.New(kernel.Config{
		PriorityScheduler:   true,
		PriorityInheritance: true,
		Preemption:          preemptive,
	}, log)
}
