package geometry

import (
	"math"
	"testing"
)

func smallestPlanDetector() Detector {
	return Detector{
		NRow: 32, NCol: 32,
		LPxRow: 1.0, LPxCol: 1.0,
		DeltaS: 0, DeltaT: 0,
		DSO: 100, DOD: 100,
		NProj: 1, RotAngle: 0,
	}
}

// TestComputeVolumeDeterministic verifies testable property 1: for a fixed
// detector geometry, ComputeVolume is a pure function with bit-exact output
// across repeated calls.
func TestComputeVolumeDeterministic(t *testing.T) {
	d := smallestPlanDetector()

	first := ComputeVolume(d)
	for i := 0; i < 5; i++ {
		got := ComputeVolume(d)
		if got != first {
			t.Fatalf("ComputeVolume is not deterministic: run %d = %+v, want %+v", i, got, first)
		}
	}
}

// TestComputeVolumeS1 checks scenario S1's dimensions as the volume
// formulae give them (32^3): with DeltaS=0, dim_x = floor(2r/l_vx) =
// n_row = 32, and dim_z = floor(16 * (100/200) * (2/l_vx)) = 32 for
// l_vx ~ 0.498 mm.
func TestComputeVolumeS1(t *testing.T) {
	v := ComputeVolume(smallestPlanDetector())

	if v.DimX != 32 {
		t.Errorf("DimX = %d, want 32", v.DimX)
	}
	if v.DimY != v.DimX {
		t.Errorf("DimY = %d, want DimX = %d (square in-plane)", v.DimY, v.DimX)
	}
	if v.DimZ != 32 {
		t.Errorf("DimZ = %d, want 32", v.DimZ)
	}
}

// TestComputeVolumeConvertsPrincipalPointOffsetToMM verifies DeltaS/DeltaT
// are converted from pixels to mm (via LPxRow/LPxCol) before use, matching
// geometry.cpp's delta_s/delta_t conversion. A detector whose DeltaS is
// given in pixels must produce the same volume as one whose DeltaS is
// pre-converted to the equivalent mm offset and fed through LPxRow=1.
func TestComputeVolumeConvertsPrincipalPointOffsetToMM(t *testing.T) {
	inPixels := Detector{
		NRow: 64, NCol: 64,
		LPxRow: 0.5, LPxCol: 0.5,
		DeltaS: 10, DeltaT: 6, // 5mm, 3mm at this pitch
		DSO: 200, DOD: 150,
		NProj: 1,
	}

	dsd := inPixels.DSD()
	halfRow := float64(inPixels.NRow) * inPixels.LPxRow / 2
	deltaSmm := math.Abs(inPixels.DeltaS) * inPixels.LPxRow
	alpha := math.Atan((halfRow + deltaSmm) / dsd)
	r := math.Abs(inPixels.DSO) * math.Sin(alpha)
	wantLvx := r / ((halfRow + deltaSmm) / inPixels.LPxRow)
	wantDimX := int(math.Floor((2 * r) / wantLvx))

	got := ComputeVolume(inPixels)
	if got.DimX != wantDimX {
		t.Errorf("DimX = %d, want %d (DeltaS must be converted to mm via LPxRow before use)", got.DimX, wantDimX)
	}
	if got.LVxX != wantLvx {
		t.Errorf("LVxX = %v, want %v", got.LVxX, wantLvx)
	}

	// A naive implementation that uses the raw pixel offset directly
	// (mixing pixels with mm) would instead match this miscomputed value.
	badAlpha := math.Atan((halfRow + math.Abs(inPixels.DeltaS)) / dsd)
	badR := math.Abs(inPixels.DSO) * math.Sin(badAlpha)
	badLvx := badR / ((halfRow + math.Abs(inPixels.DeltaS)) / inPixels.LPxRow)
	badDimX := int(math.Floor((2 * badR) / badLvx))
	if got.DimX == badDimX && badDimX != wantDimX {
		t.Errorf("DimX matches the unconverted-offset computation; DeltaS is not being converted to mm")
	}
}

func TestDetectorDSD(t *testing.T) {
	d := Detector{DSO: -100, DOD: 50}
	if got := d.DSD(); got != 150 {
		t.Errorf("DSD() = %v, want 150", got)
	}
}

func TestROIApplyShrinks(t *testing.T) {
	v := Volume{DimX: 16, DimY: 16, DimZ: 16, LVxX: 1, LVxY: 1, LVxZ: 1}
	roi := ROI{X1: 2, X2: 10, Y1: 0, Y2: 15, Z1: 4, Z2: 12}

	got, ok := roi.Apply(v)
	if !ok {
		t.Fatal("expected ROI to apply")
	}
	if got.DimX != 8 || got.DimY != 16 || got.DimZ != 8 {
		t.Errorf("got dims (%d,%d,%d), want (8,16,8)", got.DimX, got.DimY, got.DimZ)
	}
}

// TestROIApplyLowerBoundZeroIncludesBoundaryVoxel verifies a ROI anchored
// at index 0 keeps the voxel at that boundary, per the original
// apply_roi's "if(x1==0) ++dim_x" rule.
func TestROIApplyLowerBoundZeroIncludesBoundaryVoxel(t *testing.T) {
	v := Volume{DimX: 16, DimY: 16, DimZ: 16, LVxX: 1, LVxY: 1, LVxZ: 1}
	roi := ROI{X1: 0, X2: 8, Y1: 2, Y2: 10, Z1: 0, Z2: 12}

	got, ok := roi.Apply(v)
	if !ok {
		t.Fatal("expected ROI to apply")
	}
	if got.DimX != 9 || got.DimY != 8 || got.DimZ != 13 {
		t.Errorf("got dims (%d,%d,%d), want (9,8,13)", got.DimX, got.DimY, got.DimZ)
	}
}

func TestROIApplyIgnoredWhenInverted(t *testing.T) {
	v := Volume{DimX: 16, DimY: 16, DimZ: 16}
	roi := ROI{X1: 10, X2: 2, Y1: 0, Y2: 16, Z1: 0, Z2: 16}

	got, ok := roi.Apply(v)
	if ok {
		t.Fatal("expected inverted ROI to be rejected")
	}
	if got != v {
		t.Errorf("volume should be unchanged when ROI is ignored, got %+v", got)
	}
}

func TestROIApplyIgnoredWhenExpanding(t *testing.T) {
	v := Volume{DimX: 16, DimY: 16, DimZ: 16}
	roi := ROI{X1: 0, X2: 32, Y1: 0, Y2: 16, Z1: 0, Z2: 16}

	if _, ok := roi.Apply(v); ok {
		t.Fatal("expected expanding ROI to be rejected")
	}
}
