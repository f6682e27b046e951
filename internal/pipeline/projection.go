// Package pipeline provides the concurrent dataflow primitives shared by
// every reconstruction stage: the Projection unit that flows through the
// pipeline, the typed end-of-stream sentinel, the bounded blocking queue
// connecting stages, and the collaborator interfaces (Source, Sink) the
// core is handed by its caller.
package pipeline

// Projection is a single 2-D radiograph, together with the metadata it
// carries through every pipeline stage. Ownership is exclusive to
// whichever stage currently holds it: a Projection is passed by move
// through Queues, never shared.
type Projection struct {
	// Width, Height are the detector pixel counts (n_row, n_col); every
	// Projection flowing through a given run shares the same values.
	Width, Height int

	// Pitch is the logical row stride in elements. On this CPU back-end
	// there is no padding requirement, but the field is kept so that
	// filtering's zero-pad step has an explicit stride to reason about,
	// mirroring the pitched device-memory contract of the original design.
	Pitch int

	// Data is the row-major detector buffer, length Height*Pitch.
	Data []float32

	// Index is this projection's zero-based ordinal; it uniquely
	// identifies its entry in the angle tables.
	Index int

	// Phi is the rotation angle in radians.
	Phi float64

	// Device is the id of the logical device this projection is routed to.
	Device int
}

// Unit is the tagged variant that actually travels through a Queue: either
// a Data projection, or the single End sentinel that signals completion to
// every consumer of a stage. Modeling the sentinel as its own case (rather
// than a zero-valued Projection) means a consumer cannot accidentally
// dereference an invalid payload — see the "poison sentinel -> typed
// end-of-stream" design note.
type Unit struct {
	End  bool
	Proj Projection
}

// DataUnit wraps a Projection as a non-sentinel pipeline unit.
func DataUnit(p Projection) Unit { return Unit{Proj: p} }

// EndUnit is the sentinel traversing every worker of every stage exactly
// once per run.
func EndUnit() Unit { return Unit{End: true} }

// Source is the projection-stream collaborator the core is handed by its
// caller. Image-file I/O, angle-file parsing and the GPU/transfer runtime
// behind it are all out of scope for this package; Source only names the
// contract.
type Source interface {
	// NumProjections returns n_proj. It must return a stable value before
	// the first call to Next.
	NumProjections() int

	// Next returns the next projection in stream order, or ok=false once
	// the stream is exhausted.
	Next() (p Projection, ok bool, err error)
}

// Sink is the volume-output collaborator. It receives exactly one
// host-side volume on completion; there is no streaming of partial
// volumes.
type Sink interface {
	Write(data []float32, dimX, dimY, dimZ int) error
}
