package weight

import (
	"math"
	"testing"

	"ddafa/internal/geometry"
	"ddafa/internal/pipeline"
)

func testDetector() geometry.Detector {
	return geometry.Detector{
		NRow: 8, NCol: 6,
		LPxRow: 1.0, LPxCol: 1.0,
		DeltaS: 0.5, DeltaT: -0.25,
		DSO: 500, DOD: 200,
	}
}

// TestApplyMatchesWeightMap verifies testable property 4: applying the
// weighting kernel to an all-ones projection reproduces WeightMap within
// 1e-5 relative error.
func TestApplyMatchesWeightMap(t *testing.T) {
	d := testDetector()
	want := WeightMap(d)

	p := pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow}
	p.Data = make([]float32, d.NRow*d.NCol)
	for i := range p.Data {
		p.Data[i] = 1.0
	}

	Apply(d, &p)

	for i := range want {
		got := float64(p.Data[i])
		if math.Abs(got-want[i]) > 1e-5*math.Max(1, math.Abs(want[i])) {
			t.Fatalf("pixel %d: weighted = %v, want %v", i, got, want[i])
		}
	}
}

func TestStagePropagatesEndSentinel(t *testing.T) {
	in := pipeline.NewQueue(2)
	out := pipeline.NewQueue(2)
	stage := &Stage{Detector: testDetector(), In: in, Out: out, Consumers: 1}

	done := make(chan struct{})
	go func() {
		stage.Run()
		close(done)
	}()

	in.Broadcast(1)
	<-done

	u, ok := out.Take()
	if !ok || !u.End {
		t.Fatal("expected the End sentinel to be forwarded")
	}
}

func TestStageForwardsWeightedProjection(t *testing.T) {
	d := testDetector()
	in := pipeline.NewQueue(2)
	out := pipeline.NewQueue(2)
	stage := &Stage{Detector: d, In: in, Out: out, Consumers: 1}

	go stage.Run()

	data := make([]float32, d.NRow*d.NCol)
	for i := range data {
		data[i] = 1.0
	}
	in.Push(pipeline.DataUnit(pipeline.Projection{Width: d.NRow, Height: d.NCol, Pitch: d.NRow, Data: data, Index: 7}))
	in.Broadcast(1)

	u, ok := out.Take()
	if !ok || u.End {
		t.Fatal("expected a data unit before the End sentinel")
	}
	if u.Proj.Index != 7 {
		t.Errorf("Index = %d, want 7", u.Proj.Index)
	}
	if u.Proj.Data[0] == 1.0 {
		t.Error("expected weighting to change the pixel value away from 1.0")
	}
}
