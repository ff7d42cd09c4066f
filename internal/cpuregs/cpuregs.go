// Package cpuregs is the narrow, typed shim behind which all hardware
// register coupling concentrates. Everything above this package works in
// plain Go; only this package would need to change on a port to real
// silicon.
package cpuregs

// xPSR bits used when constructing an initial stack frame.
const (
	XPSRThumbBit uint32 = 1 << 24
)

// EXEC_RETURN values. EXECReturnThreadPSP means "return to thread mode, use the
// process stack, no floating point context" which is the only mode this
// kernel ever constructs.
const (
	EXECReturnThreadPSP uint32 = 0xFFFFFFFD
)

// Poison patterns written into callee-saved slots of a freshly built stack
// frame, matching the source's 0xAAAAAAAA filler so a stack dump of a task
// that has never run is recognizable as such.
const (
	PoisonReg  uint32 = 0xAAAAAAAA
	SentinelLR uint32 = 0xAAAABBBB
)

// Context is the full machine context captured at an exception boundary:
// the hardware-auto-stacked frame (R0-R3, R12, LR, PC, xPSR) plus the
// handler-saved callee-saved registers (R4-R11) and the EXEC_RETURN value
// that selects which stack is unstacked from.
type Context struct {
	R4, R5, R6, R7, R8, R9, R10, R11 uint32
	ExecReturn                       uint32

	R0, R1, R2, R3, R12 uint32
	LR, PC, XPSR        uint32
}

// Shim is the set of register-level operations §6 of the specification
// names as required from the host. A real port backs this with inline
// assembly; SimShim backs it with a plain Go struct for testing, since this
// repository targets no real MPU-bearing part. The kernel's goroutine-baton
// dispatch path does not call a Shim.
type Shim interface {
	SetPSP(addr uint32)
	GetPSP() uint32
	GetMSP() uint32
	SwitchToUnprivileged()
	GetSVCNumber() uint8
	SaveContext(psp uint32, ctx Context)
	RestoreContext(psp uint32) Context
	GetArg() uint32
	PutArg(v uint32)
}
