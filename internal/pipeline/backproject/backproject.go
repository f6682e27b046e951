// Package backproject implements the numerical core of the FDK pipeline:
// per-voxel coordinate transform, perspective projection onto the
// detector, bilinear detector interpolation, and weighted accumulation of
// every projection into the sub-volumes owned by one device.
package backproject

import (
	"fmt"
	"math"

	"ddafa/internal/angles"
	"ddafa/internal/geometry"
	"ddafa/internal/pipeline"
	"ddafa/internal/scheduler"
)

// Accumulator is one sub-volume's voxel buffer, exclusively owned by the
// device worker that back-projects into it until the merge phase.
type Accumulator struct {
	Volume geometry.Volume // global volume geometry; DimZ is the full-volume z extent used by the z coordinate formula
	Sub    scheduler.SubVolume
	Data   []float32 // row-major, length DimX*DimY*Sub.DimZLocal, x fastest
}

// NewAccumulator allocates a zeroed voxel buffer for sub-volume sub.
func NewAccumulator(vol geometry.Volume, sub scheduler.SubVolume) *Accumulator {
	return &Accumulator{
		Volume: vol,
		Sub:    sub,
		Data:   make([]float32, vol.DimX*vol.DimY*sub.DimZLocal),
	}
}

func (a *Accumulator) index(k, l, m int) int {
	return (m*a.Volume.DimY+l)*a.Volume.DimX + k
}

// Bilinear samples proj at the physical detector coordinates (hMM, vMM),
// treating any corner outside [0,width)x[0,height) as contributing zero,
// per spec.md §4.4.
func Bilinear(d geometry.Detector, proj *pipeline.Projection, hMM, vMM float64) float32 {
	hMin := d.DeltaS*d.LPxRow - float64(d.NRow)*d.LPxRow/2
	vMin := d.DeltaT*d.LPxCol - float64(d.NCol)*d.LPxCol/2

	sf := (hMM - hMin - d.LPxRow/2) / d.LPxRow
	tf := (vMM - vMin - d.LPxCol/2) / d.LPxCol

	s0 := int(math.Floor(sf))
	t0 := int(math.Floor(tf))
	s1 := s0 + 1
	t1 := t0 + 1

	ws1 := sf - float64(s0)
	ws0 := 1 - ws1
	wt1 := tf - float64(t0)
	wt0 := 1 - wt1

	sample := func(s, t int, w float64) float64 {
		if s < 0 || s >= proj.Width || t < 0 || t >= proj.Height || w == 0 {
			return 0
		}
		return w * float64(proj.Data[t*proj.Pitch+s])
	}

	sum := sample(s0, t0, ws0*wt0) +
		sample(s1, t0, ws1*wt0) +
		sample(s0, t1, ws0*wt1) +
		sample(s1, t1, ws1*wt1)

	return float32(sum)
}

// Apply back-projects a single projection into acc, using the rotation
// angle (sinPhi, cosPhi) looked up by the projection's index, per the
// per-voxel kernel of spec.md §4.4. The 0.5 weighting factor is preserved
// verbatim per the Open Question decision recorded in DESIGN.md.
func Apply(d geometry.Detector, acc *Accumulator, proj *pipeline.Projection, sinPhi, cosPhi float64) {
	vol := acc.Volume
	sub := acc.Sub

	sx, sy, sz := vol.LVxX, vol.LVxY, vol.LVxZ
	dso := d.DSO
	dsd := d.DSD()

	// S/T in-plane rotation, per spec.md §4.4's coordinate transform.
	c00, c01 := cosPhi, sinPhi
	c10, c11 := -sinPhi, cosPhi

	for m := 0; m < sub.DimZLocal; m++ {
		z := -(float64(vol.DimZ) * sz / 2) + sz/2 + float64(m+sub.ZOffset)*sz
		for l := 0; l < vol.DimY; l++ {
			y := -(float64(vol.DimY) * sy / 2) + sy/2 + float64(l)*sy
			for k := 0; k < vol.DimX; k++ {
				x := -(float64(vol.DimX) * sx / 2) + sx/2 + float64(k)*sx

				S := c00*x + c01*y
				T := c10*x + c11*y
				denom := S - dso
				factor := dsd / denom

				h := T * factor
				v := z * factor

				det := Bilinear(d, proj, h, v)

				u := dso / denom
				acc.Data[acc.index(k, l, m)] += float32(0.5) * det * float32(u*u)
			}
		}
	}
}

// Worker runs the back-projection stage for every sub-volume owned by one
// device: it drains In until the End sentinel, accumulating each
// projection into every one of its Accumulators, then returns.
type Worker struct {
	Detector     geometry.Detector
	Accumulators []*Accumulator
	Angles       *angles.Table
	In           *pipeline.Queue
}

// Run drives the worker to completion. It returns a *pipeline.StageRuntimeError
// if a projection's index falls outside the angle table, per spec.md §7's
// runtime-error class.
func (w *Worker) Run() error {
	for {
		unit, ok := w.In.Take()
		if !ok {
			return nil
		}
		if unit.End {
			return nil
		}

		p := unit.Proj
		if p.Index < 0 || p.Index >= len(w.Angles.Sin) {
			return &pipeline.StageRuntimeError{
				Stage: "backproject",
				Err:   fmt.Errorf("projection index %d out of range for angle table of length %d", p.Index, len(w.Angles.Sin)),
			}
		}

		sinPhi, cosPhi := w.Angles.Sin[p.Index], w.Angles.Cos[p.Index]
		for _, acc := range w.Accumulators {
			Apply(w.Detector, acc, &p, sinPhi, cosPhi)
		}
	}
}

// Merge copies every accumulator's voxels into the correct z-slab of a
// flat, z-ascending host volume, per spec.md §4.4's merge phase. Slabs
// never overlap, so callers may merge accumulators from different devices
// concurrently without additional synchronization.
func Merge(vol geometry.Volume, out []float32, acc *Accumulator) {
	sliceVoxels := vol.DimX * vol.DimY
	dst := acc.Sub.ZOffset * sliceVoxels
	copy(out[dst:dst+len(acc.Data)], acc.Data)
}
