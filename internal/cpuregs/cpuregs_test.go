package cpuregs

import "testing"

func TestBuildInitialFramePoisonsCalleeSavedRegisters(t *testing.T) {
	ctx := BuildInitialFrame(0x1000)
	regs := []uint32{ctx.R4, ctx.R5, ctx.R6, ctx.R7, ctx.R8, ctx.R9, ctx.R10, ctx.R11}
	for i, r := range regs {
		if r != PoisonReg {
			t.Errorf("R%d = 0x%08X, want poison 0x%08X", i+4, r, PoisonReg)
		}
	}
}

func TestBuildInitialFrameSetsPCToEntry(t *testing.T) {
	ctx := BuildInitialFrame(0xDEADBEEF)
	if ctx.PC != 0xDEADBEEF {
		t.Errorf("PC = 0x%08X, want entry address 0x%08X", ctx.PC, 0xDEADBEEF)
	}
	if ctx.XPSR&XPSRThumbBit == 0 {
		t.Error("XPSR must carry the Thumb bit; this target has no ARM instruction set")
	}
	if ctx.ExecReturn != EXECReturnThreadPSP {
		t.Errorf("ExecReturn = 0x%08X, want EXECReturnThreadPSP", ctx.ExecReturn)
	}
	if ctx.LR != SentinelLR {
		t.Errorf("LR = 0x%08X, want sentinel 0x%08X (a task never returns)", ctx.LR, SentinelLR)
	}
}

func TestSimShimSaveAndRestoreContextRoundTrips(t *testing.T) {
	s := NewSimShim(0xFFFF0000)
	ctx := BuildInitialFrame(0x2000)

	s.SaveContext(0x1000, ctx)
	got := s.RestoreContext(0x1000)

	if got != ctx {
		t.Errorf("RestoreContext returned %+v, want %+v", got, ctx)
	}
	if s.GetPSP() != 0x1000 {
		t.Errorf("GetPSP() = 0x%X, want 0x1000", s.GetPSP())
	}
}

func TestSimShimGetMSPIsUnaffectedByPSPChurn(t *testing.T) {
	s := NewSimShim(0xAAAA0000)
	s.SetPSP(0x1)
	s.SaveContext(0x2, Context{})
	s.RestoreContext(0x3)

	if s.GetMSP() != 0xAAAA0000 {
		t.Errorf("GetMSP() = 0x%X, want the main stack pointer to be untouched by PSP operations", s.GetMSP())
	}
}

func TestSimShimSwitchToUnprivilegedAndSVCArg(t *testing.T) {
	s := NewSimShim(0)
	s.SwitchToUnprivileged()
	if s.privileged {
		t.Error("SwitchToUnprivileged() left the shim privileged")
	}

	s.PutArg(42)
	if got := s.GetArg(); got != 42 {
		t.Errorf("GetArg() = %d, want 42", got)
	}

	s.SetSVCNumber(9)
	if got := s.GetSVCNumber(); got != 9 {
		t.Errorf("GetSVCNumber() = %d, want 9", got)
	}
}

func TestSimShimSatisfiesShimInterface(t *testing.T) {
	var _ Shim = NewSimShim(0)
}
