// Package weight implements the cosine-weighting stage of the FDK
// pipeline: the first transform applied to every projection, compensating
// for the varying ray path length across the detector before filtering.
package weight

import (
	"math"

	"ddafa/internal/geometry"
	"ddafa/internal/pipeline"
)

// Apply weights p in place using the detector geometry d, per spec.md
// §4.2:
//
//	h_s = l_px_row/2 + s*l_px_row + h_min
//	v_t = l_px_col/2 + t*l_px_col + v_min
//	w   = d_sd / sqrt(d_sd^2 + h_s^2 + v_t^2)
//	out[t,s] = in[t,s] * w
func Apply(d geometry.Detector, p *pipeline.Projection) {
	dsd := d.DSD()
	hMin := d.DeltaS*d.LPxRow - float64(d.NRow)*d.LPxRow/2
	vMin := d.DeltaT*d.LPxCol - float64(d.NCol)*d.LPxCol/2

	for t := 0; t < p.Height; t++ {
		vT := d.LPxCol/2 + float64(t)*d.LPxCol + vMin
		row := p.Data[t*p.Pitch : t*p.Pitch+p.Width]
		for s := 0; s < p.Width; s++ {
			hS := d.LPxRow/2 + float64(s)*d.LPxRow + hMin
			w := dsd / math.Sqrt(dsd*dsd+hS*hS+vT*vT)
			row[s] = float32(float64(row[s]) * w)
		}
	}
}

// WeightMap reports, for an all-ones projection, the expected weight at
// each detector pixel -- used to verify testable property 4 (weighting
// idempotence on the weight map) without running the full stage.
func WeightMap(d geometry.Detector) []float64 {
	dsd := d.DSD()
	hMin := d.DeltaS*d.LPxRow - float64(d.NRow)*d.LPxRow/2
	vMin := d.DeltaT*d.LPxCol - float64(d.NCol)*d.LPxCol/2

	out := make([]float64, d.NRow*d.NCol)
	for t := 0; t < d.NCol; t++ {
		vT := d.LPxCol/2 + float64(t)*d.LPxCol + vMin
		for s := 0; s < d.NRow; s++ {
			hS := d.LPxRow/2 + float64(s)*d.LPxRow + hMin
			out[t*d.NRow+s] = dsd / math.Sqrt(dsd*dsd+hS*hS+vT*vT)
		}
	}
	return out
}

// Stage consumes projections from in, applies Apply in place, and forwards
// them to out. It propagates the End sentinel to every consumer of out
// once its own inbound queue yields one, per spec.md §4.2.
type Stage struct {
	Detector   geometry.Detector
	In, Out    *pipeline.Queue
	Consumers  int
}

// Run drives the stage to completion. It returns once the End sentinel has
// been observed and forwarded.
func (s *Stage) Run() {
	for {
		unit, ok := s.In.Take()
		if !ok {
			return
		}
		if unit.End {
			s.Out.Broadcast(s.Consumers)
			return
		}
		Apply(s.Detector, &unit.Proj)
		s.Out.Push(unit)
	}
}
