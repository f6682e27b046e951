package geometry

// ROI shrinks a Volume to an axis-aligned region of interest, expressed in
// voxel indices of the original (un-clipped) volume.
type ROI struct {
	X1, X2 int
	Y1, Y2 int
	Z1, Z2 int
}

// Apply returns the Volume produced by clipping v to the ROI. ok is false
// (and the returned Volume equals v unchanged) whenever the ROI is
// malformed — any lower bound not strictly less than its upper bound — or
// would expand rather than shrink a dimension. Per spec, a bad ROI is
// silently ignored by the caller (who is expected to log a warning), never
// treated as fatal.
func (roi ROI) Apply(v Volume) (Volume, bool) {
	if roi.X1 >= roi.X2 || roi.Y1 >= roi.Y2 || roi.Z1 >= roi.Z2 {
		return v, false
	}

	dimX := roi.X2 - roi.X1
	dimY := roi.Y2 - roi.Y1
	dimZ := roi.Z2 - roi.Z1

	// A ROI anchored at index 0 keeps the voxel at that boundary, so its
	// span is one voxel wider than X2-X1 alone would suggest.
	if roi.X1 == 0 {
		dimX++
	}
	if roi.Y1 == 0 {
		dimY++
	}
	if roi.Z1 == 0 {
		dimZ++
	}

	if dimX > v.DimX || dimY > v.DimY || dimZ > v.DimZ {
		return v, false
	}

	clipped := v
	clipped.DimX = dimX
	clipped.DimY = dimY
	clipped.DimZ = dimZ
	return clipped, true
}
