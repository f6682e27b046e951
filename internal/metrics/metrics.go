// Package metrics provides post-run diagnostics over a reconstructed
// volume. Unlike the teacher's slice-denoising metrics, a CT
// reconstruction has no paired ground-truth slice to score against; these
// functions instead check the reconstruction's own internal consistency
// (axial symmetry for a uniform circular scan, central-vs-edge contrast)
// and a general similarity index usable whenever a reference volume is
// available, per SPEC_FULL.md §9.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"ddafa/internal/geometry"
)

// CentralValue returns the voxel at the volume's geometric center.
func CentralValue(vol geometry.Volume, data []float32) float64 {
	idx := index(vol, vol.DimX/2, vol.DimY/2, vol.DimZ/2)
	return float64(data[idx])
}

// EdgeMean returns the mean of every voxel on the outer x/y shell of the
// mid z-slice, using gonum/stat the way the teacher's calculateSSIM does
// for its Mean/Variance calls.
func EdgeMean(vol geometry.Volume, data []float32) float64 {
	z := vol.DimZ / 2
	var edge []float64
	for x := 0; x < vol.DimX; x++ {
		edge = append(edge, float64(data[index(vol, x, 0, z)]))
		edge = append(edge, float64(data[index(vol, x, vol.DimY-1, z)]))
	}
	for y := 1; y < vol.DimY-1; y++ {
		edge = append(edge, float64(data[index(vol, 0, y, z)]))
		edge = append(edge, float64(data[index(vol, vol.DimX-1, y, z)]))
	}
	if len(edge) == 0 {
		return 0
	}
	return stat.Mean(edge, nil)
}

// FourFoldSymmetryMaxDeviation checks scenario S3's axial-symmetry
// expectation: for a square (DimX == DimY) z-slice, every voxel and its
// three 90-degree rotations about the slice center should agree with
// their mean to within a small tolerance for a uniform circular-orbit
// scan. It returns the largest such deviation found in slice z.
func FourFoldSymmetryMaxDeviation(vol geometry.Volume, data []float32, z int) (float64, error) {
	if vol.DimX != vol.DimY {
		return 0, fmt.Errorf("metrics: four-fold symmetry requires a square slice, got %dx%d", vol.DimX, vol.DimY)
	}
	if z < 0 || z >= vol.DimZ {
		return 0, fmt.Errorf("metrics: slice index %d out of range [0,%d)", z, vol.DimZ)
	}

	n := vol.DimX
	rotate := func(x, y int) (int, int) { return n - 1 - y, x }

	maxDev := 0.0
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			x1, y1 := rotate(x, y)
			x2, y2 := rotate(x1, y1)
			x3, y3 := rotate(x2, y2)

			v0 := float64(data[index(vol, x, y, z)])
			v1 := float64(data[index(vol, x1, y1, z)])
			v2 := float64(data[index(vol, x2, y2, z)])
			v3 := float64(data[index(vol, x3, y3, z)])

			mean := (v0 + v1 + v2 + v3) / 4
			for _, v := range [4]float64{v0, v1, v2, v3} {
				if dev := math.Abs(v - mean); dev > maxDev {
					maxDev = dev
				}
			}
		}
	}
	return maxDev, nil
}

// SimilarityIndex computes a Structural-Similarity-style score between two
// equal-length datasets, generalized from the teacher's calculateSSIM:
// same constants, same gonum/stat Mean/Variance/Covariance calls, usable
// for any reference-vs-reconstruction comparison a caller wants to run.
func SimilarityIndex(a, b []float64) float64 {
	const dynamicRange = 1.0
	const k1, k2 = 0.01, 0.03
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	muA := stat.Mean(a, nil)
	muB := stat.Mean(b, nil)
	sigmaA := stat.Variance(a, nil)
	sigmaB := stat.Variance(b, nil)
	sigmaAB := stat.Covariance(a, b, nil)

	num := (2*muA*muB + c1) * (2*sigmaAB + c2)
	den := (muA*muA + muB*muB + c1) * (sigmaA + sigmaB + c2)
	if den == 0 {
		return 0
	}
	return num / den
}

// RMSE computes the root-mean-square error between two equal-length
// datasets, matching the teacher's calculateRMSE.
func RMSE(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	mse := 0.0
	for i := range a {
		d := a[i] - b[i]
		mse += d * d
	}
	mse /= float64(len(a))
	return math.Sqrt(mse)
}

func index(vol geometry.Volume, x, y, z int) int {
	return (z*vol.DimY+y)*vol.DimX + x
}
