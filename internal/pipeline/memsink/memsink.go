// Package memsink provides an in-memory pipeline.Sink used only by tests.
package memsink

import "sync"

// Sink captures the single volume written to it.
type Sink struct {
	mu                   sync.Mutex
	Data                 []float32
	DimX, DimY, DimZ     int
	written              bool
}

// New creates an empty Sink.
func New() *Sink { return &Sink{} }

func (s *Sink) Write(data []float32, dimX, dimY, dimZ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data = data
	s.DimX, s.DimY, s.DimZ = dimX, dimY, dimZ
	s.written = true
	return nil
}

// Written reports whether Write has been called.
func (s *Sink) Written() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
