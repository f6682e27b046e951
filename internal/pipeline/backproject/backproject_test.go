package backproject

import (
	"math"
	"testing"

	"ddafa/internal/geometry"
	"ddafa/internal/pipeline"
	"ddafa/internal/scheduler"
)

func s1Detector() geometry.Detector {
	return geometry.Detector{
		NRow: 32, NCol: 32,
		LPxRow: 1.0, LPxCol: 1.0,
		DeltaS: 0, DeltaT: 0,
		DSO: 100, DOD: 100,
		NProj: 1,
	}
}

func fullVolumeSub(vol geometry.Volume) scheduler.SubVolume {
	return scheduler.SubVolume{DimZLocal: vol.DimZ, ZOffset: 0}
}

// TestScenarioS1AllZeroInput verifies scenario S1: an all-zero projection
// back-projects to an all-zero volume.
func TestScenarioS1AllZeroInput(t *testing.T) {
	d := s1Detector()
	vol := geometry.ComputeVolume(d)
	if vol.DimX <= 0 || vol.DimY <= 0 || vol.DimZ <= 0 {
		t.Fatalf("expected a positive volume, got %+v", vol)
	}

	acc := NewAccumulator(vol, fullVolumeSub(vol))
	proj := pipeline.Projection{
		Width: d.NRow, Height: d.NCol, Pitch: d.NRow,
		Data: make([]float32, d.NRow*d.NCol),
	}

	Apply(d, acc, &proj, 0, 1)

	for i, v := range acc.Data {
		if v != 0 {
			t.Fatalf("voxel %d = %v, want exactly 0.0 for an all-zero projection", i, v)
		}
	}
}

// TestScenarioS2SingleImpulse verifies scenario S2: a single nonzero
// detector pixel produces a nonzero ridge through the volume, and leaves
// voxels far outside the pixel's cone at exactly zero.
func TestScenarioS2SingleImpulse(t *testing.T) {
	d := s1Detector()
	vol := geometry.ComputeVolume(d)
	acc := NewAccumulator(vol, fullVolumeSub(vol))

	data := make([]float32, d.NRow*d.NCol)
	data[(d.NCol/2)*d.NRow+d.NRow/2] = 1.0
	proj := pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: data}

	Apply(d, acc, &proj, 0, 1)

	center := acc.index(vol.DimX/2, vol.DimY/2, vol.DimZ/2)
	if acc.Data[center] <= 0 {
		t.Errorf("central voxel = %v, want strictly positive (impulse ridge)", acc.Data[center])
	}

	corner := acc.index(0, 0, vol.DimZ/2)
	if acc.Data[corner] != 0 {
		t.Errorf("corner voxel = %v, want exactly 0.0 (outside the impulse's cone)", acc.Data[corner])
	}
}

// TestBackProjectLinearity verifies testable property 7: back-projecting
// alpha*P+Q equals alpha*BP(P) + BP(Q) within floating roundoff.
func TestBackProjectLinearity(t *testing.T) {
	d := geometry.Detector{
		NRow: 8, NCol: 6,
		LPxRow: 1.0, LPxCol: 1.0,
		DeltaS: 0.5, DeltaT: -0.25,
		DSO: 500, DOD: 200,
	}
	vol := geometry.ComputeVolume(d)
	sub := fullVolumeSub(vol)

	const alpha = 2.0
	n := d.NRow * d.NCol
	p := make([]float32, n)
	q := make([]float32, n)
	combined := make([]float32, n)
	for i := 0; i < n; i++ {
		p[i] = float32(i) * 0.1
		q[i] = float32(i%3) * 0.05
		combined[i] = float32(alpha)*p[i] + q[i]
	}

	sinPhi, cosPhi := math.Sin(0.7), math.Cos(0.7)

	accP := NewAccumulator(vol, sub)
	accQ := NewAccumulator(vol, sub)
	accC := NewAccumulator(vol, sub)

	projP := pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: p}
	projQ := pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: q}
	projC := pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: combined}

	Apply(d, accP, &projP, sinPhi, cosPhi)
	Apply(d, accQ, &projQ, sinPhi, cosPhi)
	Apply(d, accC, &projC, sinPhi, cosPhi)

	for i := range accC.Data {
		want := alpha*float64(accP.Data[i]) + float64(accQ.Data[i])
		got := float64(accC.Data[i])
		if math.Abs(got-want) > 1e-3*math.Max(1, math.Abs(want)) {
			t.Fatalf("voxel %d: BP(alpha*P+Q) = %v, want alpha*BP(P)+BP(Q) = %v", i, got, want)
		}
	}
}

// TestBilinearOutOfRange verifies testable property 8: sampling entirely
// outside the detector bounds contributes exactly zero, never NaN.
func TestBilinearOutOfRange(t *testing.T) {
	d := geometry.Detector{
		NRow: 8, NCol: 6,
		LPxRow: 1.0, LPxCol: 1.0,
	}
	data := make([]float32, d.NRow*d.NCol)
	for i := range data {
		data[i] = 1.0
	}
	proj := &pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: data}

	got := Bilinear(d, proj, 1000, 1000)
	if got != 0 {
		t.Errorf("Bilinear far out of range = %v, want exactly 0", got)
	}
	if math.IsNaN(float64(got)) {
		t.Error("Bilinear produced NaN")
	}

	got = Bilinear(d, proj, -1000, -1000)
	if got != 0 {
		t.Errorf("Bilinear far out of range (negative) = %v, want exactly 0", got)
	}
}

// TestBilinearInRangeUniform checks that sampling inside a uniform
// detector reproduces the uniform value.
func TestBilinearInRangeUniform(t *testing.T) {
	d := geometry.Detector{
		NRow: 8, NCol: 6,
		LPxRow: 1.0, LPxCol: 1.0,
	}
	data := make([]float32, d.NRow*d.NCol)
	for i := range data {
		data[i] = 3.0
	}
	proj := &pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: data}

	got := Bilinear(d, proj, 0, 0)
	if math.Abs(float64(got)-3.0) > 1e-4 {
		t.Errorf("Bilinear at center of uniform detector = %v, want 3.0", got)
	}
}

// TestMergeWritesDisjointSlabs verifies that Merge places each
// accumulator's voxels at its own z-offset, without disturbing adjacent
// slabs.
func TestMergeWritesDisjointSlabs(t *testing.T) {
	vol := geometry.Volume{DimX: 2, DimY: 2, DimZ: 4, LVxX: 1, LVxY: 1, LVxZ: 1}
	sub0 := scheduler.SubVolume{DimZLocal: 2, ZOffset: 0}
	sub1 := scheduler.SubVolume{DimZLocal: 2, ZOffset: 2}

	acc0 := NewAccumulator(vol, sub0)
	acc1 := NewAccumulator(vol, sub1)
	for i := range acc0.Data {
		acc0.Data[i] = 1
	}
	for i := range acc1.Data {
		acc1.Data[i] = 2
	}

	out := make([]float32, vol.DimX*vol.DimY*vol.DimZ)
	Merge(vol, out, acc0)
	Merge(vol, out, acc1)

	for i, v := range out {
		sliceVoxels := vol.DimX * vol.DimY
		z := i / sliceVoxels
		want := float32(1)
		if z >= 2 {
			want = 2
		}
		if v != want {
			t.Errorf("out[%d] (z=%d) = %v, want %v", i, z, v, want)
		}
	}
}
