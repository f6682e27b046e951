// Package filter implements the frequency-domain ramp-filtering stage of
// the FDK pipeline: it builds the discrete FDK ramp kernel once per
// device, then applies it per row to every zero-padded projection via a
// real FFT / inverse FFT round trip.
package filter

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"ddafa/internal/geometry"
	"ddafa/internal/pipeline"
)

// Kernel is the frequency-domain FDK ramp filter for a given detector
// geometry: a length L/2+1 real-valued magnitude spectrum, derived from the
// spatial-domain kernel's forward FFT. Per the "complex-filter
// multiplication anomaly" design note, the original multiplies a complex
// spectrum by a "filter" whose real and imaginary lanes both hold the same
// magnitude -- which is exactly a real scalar multiply. Kernel stores that
// scalar directly (Mag) rather than reproducing the double-lane storage.
type Kernel struct {
	L       int
	Spatial []float64 // the r[j] sequence, for diagnostics/tests
	Mag     []float64 // length L/2+1, tau*|FFT(r)|
}

// Build constructs the ramp filter for detector d, per spec.md §4.3.
func Build(d geometry.Detector) Kernel {
	l := nextPow2(d.NCol) * 2
	tau := d.LPxRow

	r := make([]float64, l)
	for idx := 0; idx < l; idx++ {
		j := idx
		if idx > l/2 {
			j = idx - l
		}
		switch {
		case j == 0:
			r[idx] = 1 / (8 * tau * tau)
		case j%2 == 0:
			r[idx] = 0
		default:
			jf := float64(j)
			r[idx] = -1 / (2 * jf * jf * math.Pi * math.Pi * tau * tau)
		}
	}

	fft := fourier.NewFFT(l)
	spectrum := fft.Coefficients(nil, r)

	mag := make([]float64, len(spectrum))
	for i, c := range spectrum {
		mag[i] = tau * cmplx.Abs(c)
	}

	return Kernel{L: l, Spatial: r, Mag: mag}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// plan bundles a reusable FFT transformer (keyed by L, the only shape that
// determines it -- gonum's real FFT operates one row at a time, so there is
// no separate "batch size" object to cache alongside it) with a mutex,
// since a single *fourier.FFT is not safe for concurrent reuse across
// goroutines.
type plan struct {
	mu  sync.Mutex
	fft *fourier.FFT
}

// PlanCache caches FFT plans per device, keyed by transform length L, so
// that per-projection filtering never allocates a new plan -- see the
// "per-projection FFT plan allocation" design note.
type PlanCache struct {
	mu    sync.Mutex
	plans map[int]*plan
}

// NewPlanCache creates an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[int]*plan)}
}

func (c *PlanCache) get(l int) *plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[l]
	if !ok {
		p = &plan{fft: fourier.NewFFT(l)}
		c.plans[l] = p
	}
	return p
}

// ApplyRow filters a single zero-padded row of length kernel.L in place:
// forward FFT, magnitude-scale multiply, inverse FFT, 1/L normalize. row
// must be zero-padded to kernel.L by the caller; only the first width
// samples of the result are meaningful.
func ApplyRow(cache *PlanCache, kernel Kernel, row []float64) {
	p := cache.get(kernel.L)

	p.mu.Lock()
	defer p.mu.Unlock()

	spectrum := p.fft.Coefficients(nil, row)
	for i := range spectrum {
		k := kernel.Mag[i]
		spectrum[i] = complex(real(spectrum[i])*k, imag(spectrum[i])*k)
	}
	out := p.fft.Sequence(nil, spectrum)

	norm := 1 / float64(kernel.L)
	for i := range row {
		row[i] = out[i] * norm
	}
}

// Apply filters an entire projection in place: for each of p.Height rows,
// copy the width samples into a zero-padded scratch buffer of length
// kernel.L, filter it, then crop the result back into the original buffer.
func Apply(cache *PlanCache, kernel Kernel, p *pipeline.Projection) {
	scratch := make([]float64, kernel.L)
	for t := 0; t < p.Height; t++ {
		for i := range scratch {
			scratch[i] = 0
		}
		rowStart := t * p.Pitch
		for s := 0; s < p.Width; s++ {
			scratch[s] = float64(p.Data[rowStart+s])
		}

		ApplyRow(cache, kernel, scratch)

		for s := 0; s < p.Width; s++ {
			p.Data[rowStart+s] = float32(scratch[s])
		}
	}
}

// Stage consumes projections from In, ramp-filters them with a kernel
// built once (lazily, on first use) for Detector, and forwards them to
// Out, propagating the End sentinel per spec.md §4.3/§4.5.
type Stage struct {
	Detector  geometry.Detector
	In, Out   *pipeline.Queue
	Consumers int

	once   sync.Once
	kernel Kernel
	cache  *PlanCache
}

func (s *Stage) init() {
	s.once.Do(func() {
		s.kernel = Build(s.Detector)
		s.cache = NewPlanCache()
	})
}

// Run drives the stage to completion.
func (s *Stage) Run() {
	s.init()
	for {
		unit, ok := s.In.Take()
		if !ok {
			return
		}
		if unit.End {
			s.Out.Broadcast(s.Consumers)
			return
		}
		Apply(s.cache, s.kernel, &unit.Proj)
		s.Out.Push(unit)
	}
}
