package mpu

import "testing"

func TestNewManagerDeniesAllDynamicAccessByDefault(t *testing.T) {
	m := NewManager()
	for i, r := range m.Dynamic {
		if r.SRD != 0xFF {
			t.Errorf("region %d: SRD = 0x%02X, want 0xFF (all subregions denied)", i, r.SRD)
		}
		if !r.Enable {
			t.Errorf("region %d: expected enabled", i)
		}
	}
	if !m.Background.Enable || !m.Flash.Enable {
		t.Error("background and flash regions must be enabled at reset")
	}
}

func TestAddAccessWindowRejectsOutOfRangeRegion(t *testing.T) {
	var mask SRDMask
	if err := AddAccessWindow(&mask, RegionCount, 0, 1); err == nil {
		t.Error("expected error for region >= RegionCount")
	}
	if err := AddAccessWindow(&mask, -1, 0, 1); err == nil {
		t.Error("expected error for negative region")
	}
}

func TestAddAccessWindowRejectsOutOfRangeSubregions(t *testing.T) {
	var mask SRDMask
	if err := AddAccessWindow(&mask, RegionSmall, 6, 4); err == nil {
		t.Error("expected error for a window extending past subregion 7")
	}
}

func TestAddAccessWindowSetsExactBits(t *testing.T) {
	var mask SRDMask
	if err := AddAccessWindow(&mask, RegionLarge1, 2, 3); err != nil {
		t.Fatalf("AddAccessWindow: %v", err)
	}
	base := regionBitOffset(RegionLarge1)
	for i := 0; i < SubregionsPerRegion; i++ {
		want := i >= 2 && i < 5
		got := mask&(1<<(base+i)) != 0
		if got != want {
			t.Errorf("bit %d: got %v, want %v", i, got, want)
		}
	}
}

func TestApplyMaskIsComplementOfGrantedBits(t *testing.T) {
	m := NewManager()
	var mask SRDMask
	if err := AddAccessWindow(&mask, RegionMedium, 0, 2); err != nil {
		t.Fatalf("AddAccessWindow: %v", err)
	}
	m.ApplyMask(mask)

	// subregions 0-1 granted -> SRD bits 0-1 clear, 2-7 set.
	if m.Dynamic[RegionMedium].SRD != 0xFC {
		t.Errorf("RegionMedium.SRD = 0x%02X, want 0xFC", m.Dynamic[RegionMedium].SRD)
	}
	// every other region still has nothing granted.
	for i := 0; i < RegionCount; i++ {
		if i == RegionMedium {
			continue
		}
		if m.Dynamic[i].SRD != 0xFF {
			t.Errorf("region %d: SRD = 0x%02X, want 0xFF (nothing granted)", i, m.Dynamic[i].SRD)
		}
	}
}

func TestNoAccessMaskDeniesEverything(t *testing.T) {
	m := NewManager()
	m.ApplyMask(NoAccessMask())
	for i, r := range m.Dynamic {
		if r.SRD != 0xFF {
			t.Errorf("region %d: SRD = 0x%02X, want 0xFF", i, r.SRD)
		}
	}
}
