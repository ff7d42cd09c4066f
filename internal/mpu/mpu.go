// Package mpu models the memory-protection-unit configuration described in
// §4.3 of the specification: a background region, a flash region, and five
// dynamic SRAM regions (one per heap size class: small, medium, and three
// large regions) each carrying an 8-bit subregion-disable field.
//
// Grounded on the bitmask-array style of the teacher's PLIC
// (enable[2][PLICMaxSources/32]) and on the original source's
// setupSramAccess/applySramAccessMask in mm.c.
package mpu

import "fmt"

// Region indices into the dynamic SRAM region table. The source's
// setupSramAccess configures five SRAM regions total (one fixed "OS"
// region plus four named heap regions); its applySramAccessMask rewrites
// only the four heap regions because that source gives the medium class no
// region of its own — an address-range gap that is a defect, not a design
// (see DESIGN.md). This package gives every heap class, including medium,
// a real backing region, so RegionCount is five and every one of them is
// subject to ApplyMask.
const (
	RegionSmall = iota
	RegionMedium
	RegionLarge0
	RegionLarge1
	RegionLarge2
	RegionCount
)

// SubregionsPerRegion is fixed by the MPU hardware: one region always
// divides into 8 equally sized subregions.
const SubregionsPerRegion = 8

// SRDMask is the access pattern granted to a task, 8 bits per dynamic
// region: bit i set (1) means subregion i is accessible. It is the
// complement of the hardware SRD field, where a set bit *denies* access;
// ApplyMask performs that inversion. A task's mask is the union of the
// windows opened for every allocation it owns.
type SRDMask uint64

// RegionAttr mirrors the MPU attribute register layout from §6: execute
// permission, access permission, shareable/cacheable bits, the 8-bit
// subregion-disable field, a region size code, and an enable bit.
type RegionAttr struct {
	ExecuteNever bool
	Unprivileged bool // AP: unprivileged RW vs privileged-only RW
	Shareable    bool
	Cacheable    bool
	SRD          uint8
	SizeCode     uint8
	Enable       bool
}

// Manager owns the static region layout and the per-task mask application
// described in §4.3.
type Manager struct {
	Background RegionAttr
	Flash      RegionAttr
	Dynamic    [RegionCount]RegionAttr
}

// NewManager configures the static layout: background region (full access,
// lowest priority), flash (read-execute), and the five SRAM regions with
// access denied by default (SRD = 0xFF, all eight subregions disabled)
// until a task's mask grants specific windows.
func NewManager() *Manager {
	m := &Manager{
		Background: RegionAttr{Unprivileged: true, Enable: true, SizeCode: 31},
		Flash:      RegionAttr{ExecuteNever: false, Enable: true, SizeCode: 17},
	}
	for i := range m.Dynamic {
		m.Dynamic[i] = RegionAttr{
			ExecuteNever: true,
			Unprivileged: false,
			Shareable:    true,
			Cacheable:    true,
			SRD:          0xFF,
			SizeCode:     11,
			Enable:       true,
		}
	}
	return m
}

// regionBitOffset is the bit position, within a 64-bit SRDMask, of region
// r's subregion 0.
func regionBitOffset(region int) int { return region * SubregionsPerRegion }

// AddAccessWindow sets the mask bits granting access to subregionCount
// consecutive subregions of region starting at subregionStart, as
// described for addAccessWindow in §4.3.
func AddAccessWindow(mask *SRDMask, region, subregionStart, subregionCount int) error {
	if region < 0 || region >= RegionCount {
		return fmt.Errorf("mpu: region %d out of range", region)
	}
	if subregionStart < 0 || subregionCount < 0 || subregionStart+subregionCount > SubregionsPerRegion {
		return fmt.Errorf("mpu: subregion window [%d,%d) out of range", subregionStart, subregionStart+subregionCount)
	}
	base := regionBitOffset(region)
	for i := subregionStart; i < subregionStart+subregionCount; i++ {
		*mask |= 1 << (base + i)
	}
	return nil
}

// ApplyMask writes the given task's access mask into the five dynamic
// region attribute registers, clearing the subregion-disable field and
// reinstating only the bits the task's mask does *not* grant — the access
// mask uses 1 = granted, the hardware SRD field uses 1 = denied, so the
// two are bitwise complements of one another within each region's 8-bit
// slice.
func (m *Manager) ApplyMask(mask SRDMask) {
	for region := 0; region < RegionCount; region++ {
		granted := uint8(mask >> regionBitOffset(region) & 0xFF)
		m.Dynamic[region].SRD = ^granted
	}
}

// NoAccessMask is the mask of a task with no heap allocations: every
// subregion of every dynamic region denied.
func NoAccessMask() SRDMask { return 0 }
