package kernel

import "preemptos/internal/heap"

// Read copies n bytes starting at addr out of this task's heap
// allocation. An access outside the task's owned range is exactly the
// violation a real MPU's subregion-disable mask would trap, so it is
// reported through HandleFault as a FaultMPU rather than returned as a
// plain error: the caller does not get to decide how to handle its own
// memory-protection violation.
func (h Handle) Read(addr heap.Addr, n int) []byte {
	s := h.sys
	s.mu.Lock()
	tcb := &s.tasks.Tasks[h.index]
	pid := tcb.PID
	if !s.heap.OwnsRange(addr, n, uint64(pid)) {
		s.mu.Unlock()
		s.HandleFault(h.index, Fault{
			Kind:    FaultMPU,
			Task:    pid,
			Address: uint32(addr),
			Detail:  "read outside granted subregion window",
		})
		return nil
	}
	s.mu.Unlock()

	data, err := s.heap.Bytes(addr, n)
	if err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

// Write copies data into this task's heap allocation starting at addr,
// subject to the same MPU-style range check as Read.
func (h Handle) Write(addr heap.Addr, data []byte) {
	s := h.sys
	s.mu.Lock()
	tcb := &s.tasks.Tasks[h.index]
	pid := tcb.PID
	if !s.heap.OwnsRange(addr, len(data), uint64(pid)) {
		s.mu.Unlock()
		s.HandleFault(h.index, Fault{
			Kind:    FaultMPU,
			Task:    pid,
			Address: uint32(addr),
			Detail:  "write outside granted subregion window",
		})
		return
	}
	dst, err := s.heap.Bytes(addr, len(data))
	s.mu.Unlock()
	if err != nil {
		return
	}
	copy(dst, data)
}
