// Package gpio is the second external collaborator named in §6, a bank
// of digital pins a task can configure, drive, or sample. It follows the
// same thin-interface pattern as package uart since neither has a real
// memory-mapped bus to model in this kernel.
package gpio

import (
	"fmt"
	"sync"
)

// direction tracks whether a configured pin is driven by a task (output)
// or sampled by one (input); an unconfigured pin has neither EnablePort
// nor a direction set, mirroring a GPIO port bank before its clock and
// mode registers are touched.
type direction int

const (
	directionUnset direction = iota
	directionOutput
	directionInput
)

// Bank is a fixed-width set of digital pins, following the source's
// setOutput/setInput/readPin/writePin GPIO helper shape: a pin must be
// configured as an output before Write or an input before Read.
type Bank interface {
	EnablePort(port int) error
	SetOutput(pin int) error
	SetInput(pin int) error
	Read(pin int) (bool, error)
	Write(pin int, v bool) error
	PinCount() int
}

// SimBank is an in-process simulation suitable for tests and the demo
// kernel: every pin is a bit plus a configured direction in a slice,
// readable and writable by task code and inspectable by a test. Every
// pin belongs to port pin/8, mirroring a typical GPIOA/GPIOB/... layout;
// EnablePort is a no-op beyond bounds-checking the port index since this
// bank has no clock-gating to model.
type SimBank struct {
	mu    sync.Mutex
	state []bool
	dir   []direction
}

// NewSimBank returns a bank of n pins, all initially low and
// unconfigured.
func NewSimBank(n int) *SimBank {
	return &SimBank{state: make([]bool, n), dir: make([]direction, n)}
}

func (b *SimBank) EnablePort(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if port < 0 || port*8 >= len(b.state) {
		return fmt.Errorf("gpio: port %d out of range", port)
	}
	return nil
}

func (b *SimBank) SetOutput(pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin < 0 || pin >= len(b.dir) {
		return errOutOfRange(pin, len(b.dir))
	}
	b.dir[pin] = directionOutput
	return nil
}

func (b *SimBank) SetInput(pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin < 0 || pin >= len(b.dir) {
		return errOutOfRange(pin, len(b.dir))
	}
	b.dir[pin] = directionInput
	return nil
}

func (b *SimBank) Write(pin int, v bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin < 0 || pin >= len(b.state) {
		return errOutOfRange(pin, len(b.state))
	}
	if b.dir[pin] != directionOutput {
		return fmt.Errorf("gpio: pin %d is not configured as an output", pin)
	}
	b.state[pin] = v
	return nil
}

func (b *SimBank) Read(pin int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin < 0 || pin >= len(b.state) {
		return false, errOutOfRange(pin, len(b.state))
	}
	if b.dir[pin] != directionInput {
		return false, fmt.Errorf("gpio: pin %d is not configured as an input", pin)
	}
	return b.state[pin], nil
}

// PinCount reports the bank's fixed width.
func (b *SimBank) PinCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.state)
}

// SetForTest forces a pin's state without regard to its configured
// direction, for tests that simulate an external signal (a button
// press) arriving on an input pin.
func (b *SimBank) SetForTest(pin int, v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pin >= 0 && pin < len(b.state) {
		b.state[pin] = v
	}
}

func errOutOfRange(pin, count int) error {
	return fmt.Errorf("gpio: pin %d out of range [0,%d)", pin, count)
}

var _ Bank = (*SimBank)(nil)
