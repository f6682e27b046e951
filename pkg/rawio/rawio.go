// Package rawio provides the simplest possible on-disk Source/Sink
// collaborators for cmd/ddafa: flat, headerless float32 binary files. It
// is deliberately not a TIFF/HIS reader or a volume-format writer — those
// are explicitly out of scope per spec.md §1 — just enough raw I/O for the
// CLI to have a concrete Source and Sink to hand the engine.
package rawio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"ddafa/internal/pipeline"
)

// ProjectionSource reads a directory of projection files matching a glob
// pattern, one projection per file, each file exactly Width*Height*4
// bytes of little-endian float32 in row-major order. Files are sorted
// lexically before being assigned sequential Index values, so callers
// should name files so lexical order matches acquisition order (e.g.
// proj_0000.bin, proj_0001.bin, ...).
type ProjectionSource struct {
	Width, Height int

	paths []string
	next  int
}

// NewProjectionSource globs dir/pattern (e.g. "proj_*.bin") and prepares a
// Source over the matching files in lexical order.
func NewProjectionSource(dir, pattern string, width, height int) (*ProjectionSource, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("rawio: globbing %s/%s: %w", dir, pattern, err)
	}
	sort.Strings(matches)
	return &ProjectionSource{Width: width, Height: height, paths: matches}, nil
}

// NumProjections returns the number of projection files found.
func (s *ProjectionSource) NumProjections() int { return len(s.paths) }

// Next reads the next projection file in lexical order.
func (s *ProjectionSource) Next() (pipeline.Projection, bool, error) {
	if s.next >= len(s.paths) {
		return pipeline.Projection{}, false, nil
	}
	path := s.paths[s.next]

	f, err := os.Open(path)
	if err != nil {
		return pipeline.Projection{}, false, fmt.Errorf("rawio: opening %s: %w", path, err)
	}
	defer f.Close()

	want := s.Width * s.Height
	raw := make([]byte, want*4)
	if _, err := readFull(f, raw); err != nil {
		return pipeline.Projection{}, false, fmt.Errorf("rawio: reading %s: %w", path, err)
	}

	data := make([]float32, want)
	for i := range data {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		data[i] = math.Float32frombits(bits)
	}

	idx := s.next
	s.next++
	return pipeline.Projection{Width: s.Width, Height: s.Height, Pitch: s.Width, Data: data, Index: idx}, true, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("rawio: short read: got %d of %d bytes", total, len(buf))
		}
	}
	return total, nil
}

// VolumeSink writes the final reconstructed volume to a single flat
// float32 binary file, x fastest, then y, then z.
type VolumeSink struct {
	Path string
}

// Write implements pipeline.Sink.
func (s VolumeSink) Write(data []float32, dimX, dimY, dimZ int) error {
	if len(data) != dimX*dimY*dimZ {
		return fmt.Errorf("rawio: volume data length %d does not match dims %dx%dx%d", len(data), dimX, dimY, dimZ)
	}

	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], math.Float32bits(v))
	}

	if err := os.WriteFile(s.Path, raw, 0644); err != nil {
		return fmt.Errorf("rawio: writing %s: %w", s.Path, err)
	}
	return nil
}
