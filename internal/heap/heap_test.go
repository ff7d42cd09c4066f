package heap

import (
	"errors"
	"testing"

	"preemptos/internal/mpu"
)

func TestAllocateRoundsUpToSmallestFittingClass(t *testing.T) {
	a := NewAllocator()

	base, err := a.Allocate(10, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	region, _, count, ok := a.Window(base)
	if !ok {
		t.Fatal("expected a window for a fresh allocation")
	}
	if count != 1 {
		t.Errorf("a 10 byte request should need one small subregion, got count=%d", count)
	}
	if region != mpu.RegionSmall {
		t.Errorf("a 10 byte request should land in the small class's region, got region=%d", region)
	}
}

func TestAllocateExhaustsClassAndReturnsErrExhausted(t *testing.T) {
	a := NewAllocator()
	for i := 0; i < smallUsable; i++ {
		if _, err := a.Allocate(smallBlockSize, uint64(i)); err != nil {
			t.Fatalf("unexpected exhaustion on allocation %d: %v", i, err)
		}
	}
	if _, err := a.Allocate(smallBlockSize, 999); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Allocate after exhausting the small class: got %v, want ErrExhausted", err)
	}
}

func TestAllocateRejectsSizeLargerThanAnyClass(t *testing.T) {
	a := NewAllocator()
	huge := largeBlockSize * (largeUsable + 1)
	if _, err := a.Allocate(huge, 1); err == nil {
		t.Fatal("expected an error for a size no class can satisfy")
	}
}

func TestFreeReclaimsSubregionsForReuse(t *testing.T) {
	a := NewAllocator()
	base, err := a.Allocate(smallBlockSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Free(base)

	base2, err := a.Allocate(smallBlockSize, 2)
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if base2 != base {
		t.Errorf("expected the freed subregion to be reused, got base=%d want %d", base2, base)
	}
}

func TestFreeUnknownAddressIsANoOp(t *testing.T) {
	a := NewAllocator()
	a.Free(Addr(123456)) // must not panic
}

func TestFreeAllOwnedByReclaimsOnlyThatOwner(t *testing.T) {
	a := NewAllocator()
	baseA, err := a.Allocate(smallBlockSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	baseB, err := a.Allocate(smallBlockSize, 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	a.FreeAllOwnedBy(1)

	if a.OwnsRange(baseA, 1, 1) {
		t.Error("owner 1's allocation should have been reclaimed")
	}
	if !a.OwnsRange(baseB, 1, 2) {
		t.Error("owner 2's allocation should be untouched")
	}
}

func TestOwnsRangeRejectsCrossAllocationAccess(t *testing.T) {
	a := NewAllocator()
	base, err := a.Allocate(smallBlockSize, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if !a.OwnsRange(base, smallBlockSize, 1) {
		t.Error("the exact allocated window should be owned")
	}
	if a.OwnsRange(base, smallBlockSize+1, 1) {
		t.Error("a range extending one byte past the allocation must not be owned")
	}
	if a.OwnsRange(base+Addr(smallBlockSize), 1, 1) {
		t.Error("a range starting past the end of the allocation must not be owned")
	}
	if a.OwnsRange(base, 1, 2) {
		t.Error("a different owner must not own this range")
	}
}

func TestBytesRejectsOutOfBoundsWindow(t *testing.T) {
	a := NewAllocator()
	if _, err := a.Bytes(Addr(ArenaSize), 1); err == nil {
		t.Error("expected an error for a window starting at the end of the arena")
	}
}
