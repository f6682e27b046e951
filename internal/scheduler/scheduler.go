// Package scheduler translates detector geometry and per-device memory
// budgets into a deterministic, immutable execution plan: how the output
// volume is split into sub-volumes, which device owns each, and which band
// of detector rows can contribute to each sub-volume at any rotation angle.
//
// A Plan is an ordinary value built once by New and read by every
// downstream stage; there is no global scheduler instance and no locking
// (see the "singleton -> plain value" design note).
package scheduler

import (
	"fmt"
	"math"

	"ddafa/internal/geometry"
)

// DeviceMemory describes one participating device's identity and its
// available global memory in bytes.
type DeviceMemory struct {
	Device int
	Bytes  int64
}

// RowBand is the inclusive band of detector rows that can contribute to a
// sub-volume at any rotation angle.
type RowBand struct {
	Top, Bottom int
}

// SubVolume describes one axis-aligned z-slab of the reconstruction volume.
type SubVolume struct {
	DimZLocal int
	ZOffset   int
	Row       RowBand
}

// DevicePlan is the list of sub-volumes assigned to one device.
type DevicePlan struct {
	Device     int
	SubVolumes []SubVolume
}

// Plan is the immutable output of New: the derived volume geometry plus the
// per-device sub-volume assignment. Callers must treat it as read-only.
type Plan struct {
	Volume    geometry.Volume
	PerDevice []DevicePlan
}

// PlanError reports a fatal, pre-pipeline scheduling failure: insufficient
// device memory even after maximal halving, zero devices, or a detector
// geometry that yields a non-positive volume.
type PlanError struct {
	Msg string
}

func (e *PlanError) Error() string { return e.Msg }

// GlobalSubVolume identifies a sub-volume by its owning device and its
// position within the flattened, z-ascending sub-volume sequence.
type GlobalSubVolume struct {
	Device      int
	GlobalIndex int
	SubVolume   SubVolume
}

// AllSubVolumes flattens the plan into z-ascending order, one entry per
// sub-volume across all devices.
func (p *Plan) AllSubVolumes() []GlobalSubVolume {
	var all []GlobalSubVolume
	idx := 0
	for _, dp := range p.PerDevice {
		for _, sv := range dp.SubVolumes {
			all = append(all, GlobalSubVolume{Device: dp.Device, GlobalIndex: idx, SubVolume: sv})
			idx++
		}
	}
	return all
}

// New computes the execution plan for the given detector geometry and the
// memory budget of each participating device. Devices are consulted in the
// order given; sub-volumes are assigned to devices in that same order. The
// volume geometry is derived from d via geometry.ComputeVolume; callers
// that need to plan against an already ROI-shrunk volume should use
// NewWithVolume instead.
func New(d geometry.Detector, devices []DeviceMemory) (*Plan, error) {
	return NewWithVolume(d, geometry.ComputeVolume(d), devices)
}

// NewWithVolume computes the execution plan exactly as New does, except the
// volume geometry is supplied by the caller rather than recomputed from d.
// This is how an Engine honors a Region-of-Interest: it clips
// geometry.ComputeVolume(d) via ROI.Apply first, then plans against the
// clipped Volume while still reading detector-only fields (d_sd, n_col,
// ...) from d for the row-band formulas of spec.md §4.1 step 5.
func NewWithVolume(d geometry.Detector, vol geometry.Volume, devices []DeviceMemory) (*Plan, error) {
	if len(devices) == 0 {
		return nil, &PlanError{Msg: "scheduler: no devices supplied"}
	}

	if vol.DimX <= 0 || vol.DimY <= 0 || vol.DimZ <= 0 {
		return nil, &PlanError{Msg: fmt.Sprintf("scheduler: non-positive volume geometry %+v", vol)}
	}

	chunksPerDevice, err := chunkCounts(vol, devices)
	if err != nil {
		return nil, err
	}

	n := 0
	for _, c := range chunksPerDevice {
		n += c
	}

	boundaries := zBoundaries(vol.DimZ, n)
	bands := rowBands(d, vol, boundaries)

	plan := &Plan{Volume: vol}
	globalN := 0
	for di, dev := range devices {
		dp := DevicePlan{Device: dev.Device}
		for k := 0; k < chunksPerDevice[di]; k++ {
			dp.SubVolumes = append(dp.SubVolumes, SubVolume{
				DimZLocal: boundaries[globalN+1] - boundaries[globalN],
				ZOffset:   boundaries[globalN],
				Row:       bands[globalN],
			})
			globalN++
		}
		plan.PerDevice = append(plan.PerDevice, dp)
	}

	return plan, nil
}

// chunkCounts implements the per-device halving loop of spec.md §4.1 step 3:
// starting from an equal share of the volume, halve the chunk (doubling the
// chunk count) until it fits within the device's memory.
func chunkCounts(vol geometry.Volume, devices []DeviceMemory) ([]int, error) {
	nDevices := len(devices)
	bytesPerVolume := vol.Bytes()
	// A chunk can never usefully shrink below a single z-slice: below that
	// point halving again cannot change which devices the plan fits on.
	minSliceBytes := float64(vol.DimX) * float64(vol.DimY) * 4

	initial := float64(bytesPerVolume) / float64(nDevices)

	counts := make([]int, nDevices)
	for i := range counts {
		counts[i] = 1
	}

	for i, dev := range devices {
		chunk := initial
		count := counts[i]
		for chunk >= float64(dev.Bytes) {
			if chunk <= minSliceBytes {
				return nil, &PlanError{Msg: fmt.Sprintf(
					"scheduler: device %d (mem=%d bytes) cannot hold even a single z-slice of the volume", dev.Device, dev.Bytes)}
			}
			chunk /= 2
			count *= 2
		}
		counts[i] = count
	}

	return counts, nil
}

// zBoundaries returns n+1 monotone voxel-index boundaries splitting [0,
// dimZ) into n contiguous, non-overlapping bands whose sizes differ by at
// most one voxel. boundaries[k] = floor(k*dimZ/n).
func zBoundaries(dimZ, n int) []int {
	boundaries := make([]int, n+1)
	for k := 0; k <= n; k++ {
		boundaries[k] = k * dimZ / n
	}
	return boundaries
}

// rowBands computes, for each sub-volume implied by boundaries, the
// inclusive detector row band that can contribute to it for any rotation
// angle, per spec.md §4.1 step 5.
func rowBands(d geometry.Detector, vol geometry.Volume, boundaries []int) []RowBand {
	n := len(boundaries) - 1
	h := vol.HeightMM()
	rMax := (float64(vol.DimX) * vol.LVxX) / 2
	dso := math.Abs(d.DSO)
	dsd := d.DSD()
	deltaTmm := d.DeltaT * d.LPxCol

	bandLow := -float64(d.NCol)*d.LPxCol/2 - deltaTmm + d.LPxCol/2
	bandHigh := bandLow + float64(d.NCol-1)*d.LPxCol

	toRow := func(y float64, roundUp bool) int {
		y = clamp(y, bandLow, bandHigh)
		frac := (y+float64(d.NCol)*d.LPxCol/2+deltaTmm)/d.LPxCol - 0.5
		var row int
		if roundUp {
			row = int(math.Ceil(frac))
		} else {
			row = int(math.Floor(frac))
		}
		if row < 0 {
			row = 0
		}
		if row > d.NCol-1 {
			row = d.NCol - 1
		}
		return row
	}

	bands := make([]RowBand, n)
	for k := 0; k < n; k++ {
		top := -h/2 + (float64(boundaries[k])/float64(vol.DimZ))*h
		bottom := -h/2 + (float64(boundaries[k+1])/float64(vol.DimZ))*h

		topVirt := top * dsd / (dso + signedRadius(top, rMax))
		bottomVirt := bottom * dsd / (dso + signedRadius(bottom, rMax, true))

		rowA := toRow(topVirt, false)
		rowB := toRow(bottomVirt, true)
		if rowA > rowB {
			rowA, rowB = rowB, rowA
		}
		bands[k] = RowBand{Top: rowA, Bottom: rowB}
	}
	return bands
}

// signedRadius returns -rMax when y<0 and +rMax otherwise, unless invert is
// set, which flips both branches (used for the bottom_virt formula, which
// applies the opposite sign convention to top_virt per spec.md §4.1 step 5).
func signedRadius(y, rMax float64, invert ...bool) float64 {
	flip := len(invert) > 0 && invert[0]
	neg := y < 0
	if flip {
		neg = !neg
	}
	if neg {
		return -rMax
	}
	return rMax
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
