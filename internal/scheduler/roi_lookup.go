package scheduler

import (
	"ddafa/internal/geometry"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// zCentroid is a 1-D point over sub-volume z-centers, used to build a
// kd-tree over a Plan's sub-volumes. Implemented the same way the
// reconstruction pack's kriging package indexes its 3-D data points
// (Compare/Dims/Distance plus a Pivot-capable container), reduced to the
// single z dimension a sub-volume lookup needs.
type zCentroid struct {
	z   float64
	ref GlobalSubVolume
}

func (p zCentroid) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.z - c.(zCentroid).z
}

func (p zCentroid) Dims() int { return 1 }

func (p zCentroid) Distance(c kdtree.Comparable) float64 {
	dz := p.z - c.(zCentroid).z
	return dz * dz
}

type zCentroids []zCentroid

func (p zCentroids) Index(i int) kdtree.Comparable       { return p[i] }
func (p zCentroids) Len() int                            { return len(p) }
func (p zCentroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p zCentroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(zCentroidPlane{p}, kdtree.MedianOfRandoms(zCentroidPlane{p}, 100))
}

type zCentroidPlane struct{ zCentroids }

func (p zCentroidPlane) Less(i, j int) bool { return p.zCentroids[i].z < p.zCentroids[j].z }
func (p zCentroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return zCentroidPlane{p.zCentroids[start:end]}
}
func (p zCentroidPlane) Swap(i, j int) {
	p.zCentroids[i], p.zCentroids[j] = p.zCentroids[j], p.zCentroids[i]
}

// ROIIndex answers "which sub-volumes does a ROI touch" via a kd-tree over
// sub-volume z-centroids, instead of a linear scan. Built once per Plan and
// reused for every ROI query against it.
type ROIIndex struct {
	tree *kdtree.Tree
	all  []GlobalSubVolume
}

// NewROIIndex builds a lookup index over every sub-volume in the plan.
func NewROIIndex(plan *Plan) *ROIIndex {
	all := plan.AllSubVolumes()
	points := make(zCentroids, len(all))
	for i, sv := range all {
		points[i] = zCentroid{
			z:   float64(sv.SubVolume.ZOffset) + float64(sv.SubVolume.DimZLocal)/2,
			ref: sv,
		}
	}
	return &ROIIndex{tree: kdtree.New(points, true), all: all}
}

// ClippedBy returns every sub-volume whose z-extent intersects the ROI's
// [Z1, Z2) range, found by nearest-neighbor lookups at the ROI boundaries
// instead of scanning every sub-volume in the plan.
func (idx *ROIIndex) ClippedBy(roi geometry.ROI) []GlobalSubVolume {
	if len(idx.all) == 0 || roi.Z1 >= roi.Z2 {
		return nil
	}

	loRef, _ := idx.tree.Nearest(zCentroid{z: float64(roi.Z1)})
	hiRef, _ := idx.tree.Nearest(zCentroid{z: float64(roi.Z2 - 1)})
	if loRef == nil || hiRef == nil {
		return nil
	}

	loIdx := loRef.(zCentroid).ref.GlobalIndex
	hiIdx := hiRef.(zCentroid).ref.GlobalIndex
	if loIdx > hiIdx {
		loIdx, hiIdx = hiIdx, loIdx
	}
	// Widen by one on each side: a centroid nearest to a boundary is not
	// necessarily the sub-volume whose span actually crosses it.
	if loIdx > 0 {
		loIdx--
	}
	if hiIdx < len(idx.all)-1 {
		hiIdx++
	}

	var out []GlobalSubVolume
	for _, sv := range idx.all[loIdx : hiIdx+1] {
		lo := sv.SubVolume.ZOffset
		hi := lo + sv.SubVolume.DimZLocal
		if hi > roi.Z1 && lo < roi.Z2 {
			out = append(out, sv)
		}
	}
	return out
}
