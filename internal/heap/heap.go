// Package heap implements the subregion-granular fixed-block allocator of
// §4.3: three size classes carved out of a reserved SRAM arena, each
// backed by one or more MPU regions (see internal/mpu), with a flat
// allocation-metadata table mirroring the source's heapAttributes array.
package heap

import (
	"fmt"
	"sync"

	"preemptos/internal/mpu"
)

// Class identifies one of the three fixed size classes described in §4.3.
type Class int

const (
	ClassSmall Class = iota
	ClassMedium
	ClassLarge
)

func (c Class) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}

// Block sizes and usable-subregion counts per class, taken verbatim from
// §4.3: 7 subregions of 512B, 2 subregions of 1.5KB, 3x8 subregions of
// 1KB (24 total).
const (
	smallBlockSize   = 512
	smallUsable      = 7
	mediumBlockSize  = 1536
	mediumUsable     = 2
	largeBlockSize   = 1024
	largeUsable      = 24
	largeRegionCount = 3

	// MaxHeapBlocks bounds the allocation-metadata table: one entry per
	// usable subregion is the most distinct allocations the arena could
	// ever hold at once.
	MaxHeapBlocks = smallUsable + mediumUsable + largeUsable
)

// Addr is an offset into the managed arena. It stands in for the absolute
// SRAM address the source computes from a region base address.
type Addr uint32

// ErrExhausted is returned by Allocate when no contiguous run of free
// subregions exists in the target class.
var ErrExhausted = fmt.Errorf("heap: no contiguous run available")

type classState struct {
	class      Class
	baseOffset Addr
	blockSize  int
	used       []bool // len == usable subregion count for this class
	regionMap  func(localIndex int) (region, subregion int)
}

func (c *classState) scan(count int) (int, bool) {
	run := 0
	for i, u := range c.used {
		if u {
			run = 0
			continue
		}
		run++
		if run == count {
			start := i - count + 1
			for j := start; j <= i; j++ {
				c.used[j] = true
			}
			return start, true
		}
	}
	return 0, false
}

func (c *classState) free(start, count int) {
	for i := start; i < start+count && i < len(c.used); i++ {
		c.used[i] = false
	}
}

type allocation struct {
	inUse          bool
	base           Addr
	owner          uint64
	class          Class
	subregionStart int
	subregionCount int
}

// Allocator manages the arena and the fixed allocation-metadata table. It
// is safe for concurrent use, though in this kernel all calls already run
// under the System's single critical-section mutex; the lock here keeps
// the package correct when exercised standalone (as the tests do).
type Allocator struct {
	mu sync.Mutex

	arena []byte
	small classState

	medium classState
	large  classState

	meta [MaxHeapBlocks]allocation
}

// ArenaSize is the total managed SRAM reserved for the heap: one region
// each for the small and medium classes and three for the large class,
// each region divided into 8 equally sized subregions regardless of how
// many of them the class actually hands out.
const ArenaSize = smallBlockSize*mpu.SubregionsPerRegion +
	mediumBlockSize*mpu.SubregionsPerRegion +
	largeBlockSize*mpu.SubregionsPerRegion*largeRegionCount

// NewAllocator returns an allocator over a freshly zeroed arena.
func NewAllocator() *Allocator {
	a := &Allocator{arena: make([]byte, ArenaSize)}

	a.small = classState{
		class:      ClassSmall,
		baseOffset: 0,
		blockSize:  smallBlockSize,
		used:       make([]bool, smallUsable),
		regionMap:  func(i int) (int, int) { return mpu.RegionSmall, i },
	}

	mediumBase := Addr(smallBlockSize * mpu.SubregionsPerRegion)
	a.medium = classState{
		class:      ClassMedium,
		baseOffset: mediumBase,
		blockSize:  mediumBlockSize,
		used:       make([]bool, mediumUsable),
		regionMap:  func(i int) (int, int) { return mpu.RegionMedium, i },
	}

	largeBase := mediumBase + Addr(mediumBlockSize*mpu.SubregionsPerRegion)
	a.large = classState{
		class:      ClassLarge,
		baseOffset: largeBase,
		blockSize:  largeBlockSize,
		used:       make([]bool, largeUsable),
		regionMap: func(i int) (int, int) {
			return mpu.RegionLarge0 + i/mpu.SubregionsPerRegion, i % mpu.SubregionsPerRegion
		},
	}

	return a
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// classFor picks the smallest-block class able to satisfy sizeBytes
// without exceeding its usable subregion count, per §4.3: "Round request
// up to the smallest size class that fits."
func (a *Allocator) classFor(sizeBytes int) (*classState, int, bool) {
	for _, c := range []*classState{&a.small, &a.medium, &a.large} {
		count := ceilDiv(sizeBytes, c.blockSize)
		if count <= len(c.used) {
			return c, count, true
		}
	}
	return nil, 0, false
}

// Allocate reserves sizeBytes rounded up to the smallest fitting class, on
// behalf of owner (an opaque caller identifier, typically a task PID).
// It returns ErrExhausted if the class has no contiguous free run, and a
// plain error if sizeBytes cannot be satisfied by any class.
func (a *Allocator) Allocate(sizeBytes int, owner uint64) (Addr, error) {
	if sizeBytes <= 0 {
		return 0, fmt.Errorf("heap: size must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	class, count, ok := a.classFor(sizeBytes)
	if !ok {
		return 0, fmt.Errorf("heap: %d bytes exceeds the largest class", sizeBytes)
	}

	start, ok := class.scan(count)
	if !ok {
		return 0, ErrExhausted
	}

	base := class.baseOffset + Addr(start*class.blockSize)
	for i := range a.meta {
		if !a.meta[i].inUse {
			a.meta[i] = allocation{
				inUse:          true,
				base:           base,
				owner:          owner,
				class:          class.class,
				subregionStart: start,
				subregionCount: count,
			}
			return base, nil
		}
	}
	// Metadata table full: undo the subregion reservation and fail.
	class.free(start, count)
	return 0, fmt.Errorf("heap: %w", ErrExhausted)
}

// Free releases the allocation at base. Unknown addresses are a silent
// no-op, per §4.3.
func (a *Allocator) Free(base Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.meta {
		m := &a.meta[i]
		if !m.inUse || m.base != base {
			continue
		}
		a.classOf(m.class).free(m.subregionStart, m.subregionCount)
		*m = allocation{}
		return
	}
}

// FreeAllOwnedBy releases every allocation owned by owner, used by KILL
// (§4.4) to reclaim a task's heap in one step.
func (a *Allocator) FreeAllOwnedBy(owner uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.meta {
		m := &a.meta[i]
		if m.inUse && m.owner == owner {
			a.classOf(m.class).free(m.subregionStart, m.subregionCount)
			*m = allocation{}
		}
	}
}

func (a *Allocator) classOf(c Class) *classState {
	switch c {
	case ClassSmall:
		return &a.small
	case ClassMedium:
		return &a.medium
	default:
		return &a.large
	}
}

// Window returns the MPU region, starting subregion, and subregion count
// that must be granted to access the allocation at base, for use with
// mpu.AddAccessWindow. ok is false if base is not a live allocation.
func (a *Allocator) Window(base Addr) (region, subregionStart, subregionCount int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.meta {
		m := &a.meta[i]
		if m.inUse && m.base == base {
			cs := a.classOf(m.class)
			region, _ = cs.regionMap(m.subregionStart)
			_, subregionStart = cs.regionMap(m.subregionStart)
			return region, subregionStart, m.subregionCount, true
		}
	}
	return 0, 0, 0, false
}

// Bytes returns a slice of the arena backing an allocation, for tasks to
// read and write as ordinary memory.
func (a *Allocator) Bytes(base Addr, size int) ([]byte, error) {
	if int(base)+size > len(a.arena) {
		return nil, fmt.Errorf("heap: window [%d,%d) out of bounds", base, int(base)+size)
	}
	return a.arena[base : int(base)+size], nil
}

// OwnsRange reports whether [addr, addr+n) falls entirely inside a
// single live allocation owned by owner. The kernel's software-enforced
// MPU uses this as the access check a real MPU would perform against a
// task's subregion-disable mask: any access straddling an allocation
// boundary, touching unowned memory, or crossing into another task's
// allocation is a violation.
func (a *Allocator) OwnsRange(addr Addr, n int, owner uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.meta {
		m := &a.meta[i]
		if !m.inUse || m.owner != owner {
			continue
		}
		size := a.classOf(m.class).blockSize * m.subregionCount
		if addr >= m.base && int(addr-m.base)+n <= size {
			return true
		}
	}
	return false
}
