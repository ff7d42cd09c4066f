package cpuregs

// BuildInitialFrame returns the Context that would be in place the first
// time a task is dispatched, as if the hardware had already auto-stacked
// R0-R3/R12/LR/PC/xPSR and the handler had already pushed poisoned
// callee-saved registers. entry is the task's entry-point address (its
// PID, per the convention in §3 of the specification); sentinel fills LR
// since a task is never expected to return.
func BuildInitialFrame(entry uint32) Context {
	return Context{
		R4: PoisonReg, R5: PoisonReg, R6: PoisonReg, R7: PoisonReg,
		R8: PoisonReg, R9: PoisonReg, R10: PoisonReg, R11: PoisonReg,
		ExecReturn: EXECReturnThreadPSP,

		R0: 0, R1: 1, R2: 2, R3: 3, R12: 0x0000000C,
		LR:   SentinelLR,
		PC:   entry,
		XPSR: XPSRThumbBit,
	}
}
