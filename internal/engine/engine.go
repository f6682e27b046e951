// Package engine wires the FDK reconstruction core together: it builds
// the scheduler plan, the angle table, and the weighting/filtering/
// back-projection stages, then drives a Source through them into a Sink,
// the way the teacher's Reconstructor.Process drives its own pipeline
// end to end.
package engine

import (
	"fmt"
	"log"

	"ddafa/internal/angles"
	"ddafa/internal/geometry"
	"ddafa/internal/pipeline"
	"ddafa/internal/pipeline/backproject"
	"ddafa/internal/pipeline/filter"
	"ddafa/internal/pipeline/weight"
	"ddafa/internal/scheduler"
)

// Config bundles the inputs an Engine needs beyond the Source/Sink
// collaborators: detector geometry, per-device memory budgets, angle
// source, and pipeline tuning.
type Config struct {
	Detector geometry.Detector
	ROI      *geometry.ROI // nil means no ROI

	Devices []scheduler.DeviceMemory

	// AnglePath, if non-empty, is parsed via angles.ParseFile; otherwise
	// the angle table falls back to angles.Uniform.
	AnglePath string

	QueueCapacity int
}

// Engine is a single reconstruction run, built once from a Config and
// driven exactly once by Run.
type Engine struct {
	cfg  Config
	plan *scheduler.Plan
}

// New computes the scheduler plan for cfg. It returns a *scheduler.PlanError
// if the geometry or device memory is invalid, per spec.md §4.1's failure
// mode.
func New(cfg Config) (*Engine, error) {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 2 * maxInt(1, len(cfg.Devices))
	}

	vol := geometry.ComputeVolume(cfg.Detector)
	if cfg.ROI != nil {
		if shrunk, ok := cfg.ROI.Apply(vol); ok {
			vol = shrunk
		} else {
			log.Printf("engine: ROI %+v ignored (expanding or degenerate bounds)", *cfg.ROI)
		}
	}

	plan, err := scheduler.NewWithVolume(cfg.Detector, vol, cfg.Devices)
	if err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, plan: plan}, nil
}

// Plan exposes the computed scheduler plan for callers that want to report
// it (CLI summary printing, tests).
func (e *Engine) Plan() *scheduler.Plan { return e.plan }

// Run drains source through weighting, filtering, and back-projection, then
// merges every device's sub-volumes and writes the result to sink. It
// returns the first error encountered: a wrapped Source/Sink I/O error or
// a *pipeline.StageRuntimeError from back-projection. Plan errors are
// reported earlier, by New.
func (e *Engine) Run(source pipeline.Source, sink pipeline.Sink) error {
	d := e.cfg.Detector
	vol := e.plan.Volume

	table, warn := e.buildAngleTable(source.NumProjections())
	if warn != nil {
		log.Printf("engine: %v", warn)
	}

	sourceQueue := pipeline.NewQueue(e.cfg.QueueCapacity)
	weightedQueue := pipeline.NewQueue(e.cfg.QueueCapacity)
	filteredQueue := pipeline.NewQueue(e.cfg.QueueCapacity)

	deviceQueues := make([]*pipeline.Queue, len(e.plan.PerDevice))
	for i := range deviceQueues {
		deviceQueues[i] = pipeline.NewQueue(e.cfg.QueueCapacity)
	}

	var workers pipeline.WorkerGroup
	var sourceErr error

	workers.Go(func() {
		sourceErr = pumpSource(source, sourceQueue)
	})

	weightStage := &weight.Stage{Detector: d, In: sourceQueue, Out: weightedQueue, Consumers: 1}
	workers.Go(weightStage.Run)

	filterStage := &filter.Stage{Detector: d, In: weightedQueue, Out: filteredQueue, Consumers: 1}
	workers.Go(filterStage.Run)

	workers.Go(func() {
		fanout(filteredQueue, deviceQueues)
	})

	accumulators := make([][]*backproject.Accumulator, len(e.plan.PerDevice))
	backprojectErrs := make([]error, len(e.plan.PerDevice))
	for i, dp := range e.plan.PerDevice {
		accs := make([]*backproject.Accumulator, len(dp.SubVolumes))
		for j, sv := range dp.SubVolumes {
			accs[j] = backproject.NewAccumulator(vol, sv)
		}
		accumulators[i] = accs

		bpWorker := &backproject.Worker{
			Detector:     d,
			Accumulators: accs,
			Angles:       &table,
			In:           deviceQueues[i],
		}
		i := i
		workers.Go(func() {
			backprojectErrs[i] = bpWorker.Run()
			if backprojectErrs[i] != nil {
				// The worker no longer takes from its queue; closing it turns
				// fanout's remaining pushes into no-ops instead of blocking.
				deviceQueues[i].Close()
			}
		})
	}

	workers.Wait()

	if sourceErr != nil {
		return fmt.Errorf("engine: reading projection source: %w", sourceErr)
	}
	for _, err := range backprojectErrs {
		if err != nil {
			return err
		}
	}

	out := make([]float32, vol.DimX*vol.DimY*vol.DimZ)
	for _, accs := range accumulators {
		for _, acc := range accs {
			backproject.Merge(vol, out, acc)
		}
	}

	if err := sink.Write(out, vol.DimX, vol.DimY, vol.DimZ); err != nil {
		return fmt.Errorf("engine: writing output volume: %w", err)
	}
	return nil
}

// buildAngleTable resolves the angle table per the AnglePath/Detector
// configuration, falling back to a uniform step, per spec.md §6.
func (e *Engine) buildAngleTable(nProj int) (angles.Table, *angles.Warning) {
	d := e.cfg.Detector
	if e.cfg.AnglePath == "" {
		return angles.Uniform(nProj, d.RotAngle), nil
	}
	return angles.ParseFile(e.cfg.AnglePath, nProj, d.RotAngle)
}

// pumpSource reads every projection from source and pushes it onto q,
// finishing with the End sentinel. It returns the first error Source.Next
// reports, having already poisoned q so downstream stages still terminate.
func pumpSource(source pipeline.Source, q *pipeline.Queue) error {
	for {
		p, ok, err := source.Next()
		if err != nil {
			q.Broadcast(1)
			return err
		}
		if !ok {
			q.Broadcast(1)
			return nil
		}
		q.Push(pipeline.DataUnit(p))
	}
}

// fanout replicates every unit read from in onto every queue in outs: each
// device's back-projection worker needs every projection, since any
// sub-volume on any device may receive a nonzero contribution from any
// projection angle.
func fanout(in *pipeline.Queue, outs []*pipeline.Queue) {
	for {
		unit, ok := in.Take()
		if !ok {
			for _, out := range outs {
				out.Broadcast(1)
			}
			return
		}
		if unit.End {
			for _, out := range outs {
				out.Broadcast(1)
			}
			return
		}
		for _, out := range outs {
			out.Push(unit)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
