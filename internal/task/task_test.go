package task

import (
	"errors"
	"testing"
)

func noopA(Handle) {}
func noopB(Handle) {}

func TestNewTableStartsAllInvalid(t *testing.T) {
	tbl := NewTable()
	for i, tcb := range tbl.Tasks {
		if tcb.State != StateInvalid {
			t.Errorf("slot %d: state = %v, want StateInvalid", i, tcb.State)
		}
		if tcb.MutexIndex != -1 || tcb.SemaphoreIndex != -1 {
			t.Errorf("slot %d: expected -1 sentinel indices, got mutex=%d sem=%d", i, tcb.MutexIndex, tcb.SemaphoreIndex)
		}
	}
}

func TestCreateAssignsDistinctPIDsAndBuildsInitialFrame(t *testing.T) {
	tbl := NewTable()
	idxA, err := tbl.Create(noopA, "a", 5, 256)
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	idxB, err := tbl.Create(noopB, "b", 5, 256)
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if tbl.Tasks[idxA].PID == tbl.Tasks[idxB].PID {
		t.Error("distinct entry functions must get distinct PIDs")
	}
	if tbl.Tasks[idxA].InitialFrame.PC != uint32(tbl.Tasks[idxA].PID) {
		t.Errorf("InitialFrame.PC = 0x%X, want the task's PID", tbl.Tasks[idxA].InitialFrame.PC)
	}
	if tbl.Count != 2 {
		t.Errorf("Count = %d, want 2", tbl.Count)
	}
}

func TestCreateRejectsOutOfRangePriority(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Create(noopA, "a", NumPriorities, 256); err == nil {
		t.Error("expected an error for priority == NumPriorities")
	}
}

func TestCreateReturnsErrTableFullWhenExhausted(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < MaxTasks; i++ {
		if _, err := tbl.Create(noopA, "t", 0, 256); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if _, err := tbl.Create(noopA, "overflow", 0, 256); !errors.Is(err, ErrTableFull) {
		t.Fatalf("got %v, want ErrTableFull", err)
	}
}

func TestStopPreservesIdentityForRestart(t *testing.T) {
	tbl := NewTable()
	idx, err := tbl.Create(noopA, "worker", 3, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	pid := tbl.Tasks[idx].PID

	tbl.Tasks[idx].Allocated = 42
	tbl.Tasks[idx].AllocatedSize = 256
	tbl.Stop(idx)

	tcb := tbl.Tasks[idx]
	if tcb.State != StateStopped {
		t.Errorf("State = %v, want StateStopped", tcb.State)
	}
	if tcb.PID != pid || tcb.Name != "worker" || tcb.Priority != 3 {
		t.Error("Stop must preserve PID, Name, and Priority for a later Restart-by-name lookup")
	}
	if tcb.Allocated != 0 || tcb.AllocatedSize != 0 {
		t.Error("Stop must clear the stale heap allocation bookkeeping")
	}

	if foundIdx, ok := tbl.ByName("worker"); !ok || foundIdx != idx {
		t.Error("a stopped task must still be found by name for Restart")
	}
}

func TestInvalidateFullyClearsASlot(t *testing.T) {
	tbl := NewTable()
	idx, err := tbl.Create(noopA, "worker", 3, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tbl.Invalidate(idx)

	if tbl.Tasks[idx].State != StateInvalid {
		t.Errorf("State = %v, want StateInvalid", tbl.Tasks[idx].State)
	}
	if tbl.Count != 0 {
		t.Errorf("Count = %d, want 0", tbl.Count)
	}
	if _, ok := tbl.ByName("worker"); ok {
		t.Error("an invalidated task must not be findable by name")
	}
}

func TestByPIDFindsOnlyLiveTasks(t *testing.T) {
	tbl := NewTable()
	idx, err := tbl.Create(noopA, "worker", 3, 256)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	pid := tbl.Tasks[idx].PID

	if found, ok := tbl.ByPID(pid); !ok || found != idx {
		t.Error("expected to find the live task by PID")
	}

	tbl.Invalidate(idx)
	if _, ok := tbl.ByPID(pid); ok {
		t.Error("an invalidated slot must not be found by PID")
	}
}
