// Package uart models the UART external collaborator named in §6: tasks
// write characters out and poll for keyboard input without blocking the
// rest of the system, the same duty the source's putsUart0/getKey
// helpers perform over a real 16550-style device.
//
// Grounded on the FIFO/LSR modeling in the teacher's
// internal/devices/serial/uart8250_mmio.go, generalized here from an
// MMIO-addressed register file (this kernel has no memory-mapped bus) to
// a plain Go interface with the same data-ready/transmit-empty shape.
package uart

import "sync"

// Device is the minimal surface a task or the kernel's fault reporter
// needs: write a line, drain buffered input, and check readiness
// without blocking — the Go-native equivalent of polling the LSR
// data-ready and transmit-empty bits. Puts and Gets mirror the source's
// putsUart0/getsUart0 helpers directly, down to the void/no-error
// signatures: a UART write or read never fails in a way task code is
// expected to handle.
type Device interface {
	Puts(s string)
	Gets(buf []byte) int
	KBHit() bool
}

// FIFO is an in-process UART: output goes to an in-memory log (useful
// for tests and for any console mirrored to an io.Writer), input is a
// ring buffer a test or demo driver feeds by calling Inject.
type FIFO struct {
	mu sync.Mutex

	outLog []byte
	in     []byte
}

// NewFIFO returns an empty FIFO UART.
func NewFIFO() *FIFO {
	return &FIFO{}
}

func (f *FIFO) Puts(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outLog = append(f.outLog, s...)
}

// Output returns everything written so far, mirroring a capture of what
// a real UART would have transmitted.
func (f *FIFO) Output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.outLog)
}

// Inject appends bytes to the input ring buffer, standing in for a
// keyboard or host feeding the UART's receive FIFO.
func (f *FIFO) Inject(b ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in = append(f.in, b...)
}

// Gets drains up to len(buf) buffered input bytes into buf, returning
// the count actually copied, mirroring getsUart0's non-blocking read.
func (f *FIFO) Gets(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(buf, f.in)
	f.in = f.in[n:]
	return n
}

func (f *FIFO) KBHit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.in) > 0
}

var _ Device = (*FIFO)(nil)
