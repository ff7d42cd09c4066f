package cpuregs

import "sync"

// SimShim is an in-process simulation of the register shim. It has no real
// stack pointers to switch — instead it records the process/main stack
// pointer values and the last SVC state so the kernel's dispatch loop can
// be written exactly as it would be against real registers.
type SimShim struct {
	mu  sync.Mutex
	psp uint32
	msp uint32

	svcNumber uint8
	arg       uint32
	savedCtx  Context

	privileged bool
}

// NewSimShim returns a simulated shim with the given main stack pointer
// (the kernel's own stack, never touched by task code).
func NewSimShim(msp uint32) *SimShim {
	return &SimShim{msp: msp, privileged: true}
}

func (s *SimShim) SetPSP(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psp = addr
}

func (s *SimShim) GetPSP() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.psp
}

func (s *SimShim) GetMSP() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msp
}

func (s *SimShim) SwitchToUnprivileged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privileged = false
}

func (s *SimShim) GetSVCNumber() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.svcNumber
}

// SetSVCNumber is not part of the Shim interface: it lets a caller
// standing in for the SVC exception's trap entry record which call number
// was trapped, for GetSVCNumber to report.
func (s *SimShim) SetSVCNumber(no uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.svcNumber = no
}

// SaveContext and RestoreContext are the two leaf operations Design Notes
// §9 calls "inherently inline-assembly" on real hardware. Here they are
// plain field copies; callers never reach into a Context directly so a
// port swapping this out for real PUSH/POP sequences changes nothing else.
func (s *SimShim) SaveContext(psp uint32, ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psp = psp
	s.savedCtx = ctx
}

func (s *SimShim) RestoreContext(psp uint32) Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psp = psp
	return s.savedCtx
}

func (s *SimShim) GetArg() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arg
}

func (s *SimShim) PutArg(v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arg = v
}

var _ Shim = (*SimShim)(nil)
