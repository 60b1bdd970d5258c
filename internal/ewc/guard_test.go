package ewc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthdetect/internal/nn"
	"synthdetect/pkg/tensor"
)

// stubModel is a minimal trainable surface: logits are a linear function
// of the first image value, logit[1] = w*x, logit[0] = 0.
type stubModel struct {
	w      *nn.Param
	lastIn float64
}

func newStubModel(weight float64) *stubModel {
	return &stubModel{w: &nn.Param{
		Name:  "stub.weight",
		Value: []float64{weight},
		Grad:  []float64{0},
	}}
}

func (m *stubModel) Params() []*nn.Param { return []*nn.Param{m.w} }

func (m *stubModel) ZeroGrad() { m.w.ZeroGrad() }

func (m *stubModel) Forward(img *tensor.Volume) [2]float64 {
	m.lastIn = img.Data[0]
	return [2]float64{0, m.w.Value[0] * m.lastIn}
}

func (m *stubModel) Backward(dLogits [2]float64) {
	m.w.Grad[0] += dLogits[1] * m.lastIn
}

func examples(labels ...int) []Example {
	out := make([]Example, len(labels))
	for i, label := range labels {
		img := tensor.NewVolume(1, 1, 1)
		img.Data[0] = 1.0
		out[i] = Example{Image: img, Label: label}
	}
	return out
}

func TestPenaltyZeroAtConstruction(t *testing.T) {
	m := newStubModel(0.7)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher([][]Example{examples(0, 1)})

	assert.Zero(t, g.Penalty(), "parameters have not moved from the snapshot")
}

func TestPenaltyPositiveAfterDrift(t *testing.T) {
	m := newStubModel(0.7)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher([][]Example{examples(0, 1)})

	m.w.Value[0] = 1.7
	assert.Greater(t, g.Penalty(), 0.0, "drifting an important parameter must be penalized")
}

func TestPenaltyScalesWithLambda(t *testing.T) {
	build := func(lambda float64) float64 {
		m := newStubModel(0.7)
		g := NewGuard(m, lambda)
		g.ComputeFisher([][]Example{examples(0, 1)})
		m.w.Value[0] = 1.7
		return g.Penalty()
	}

	low := build(10)
	high := build(1000)
	assert.InDelta(t, 100*low, high, 1e-9*high)
}

func TestComputeFisherMatchesAnalyticGradient(t *testing.T) {
	// One example with label 0 and x=1: dLoss/dlogit1 = p1, so the weight
	// gradient is p1 and the Fisher estimate is p1 squared.
	m := newStubModel(0.0)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher([][]Example{examples(0)})

	fisher := g.Fisher()["stub.weight"]
	require.Len(t, fisher, 1)
	assert.InDelta(t, 0.25, fisher[0], 1e-12, "p1 is 0.5 at zero logits")
}

func TestComputeFisherEmptyBatchesZero(t *testing.T) {
	m := newStubModel(0.7)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher(nil)

	m.w.Value[0] = 5.0
	assert.Zero(t, g.Penalty(), "zero Fisher makes consolidation a no-op")
}

func TestComputeFisherReplacesWholesale(t *testing.T) {
	m := newStubModel(0.0)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher([][]Example{examples(0)})
	require.NotZero(t, g.Fisher()["stub.weight"][0])

	g.ComputeFisher(nil)
	assert.Zero(t, g.Fisher()["stub.weight"][0], "a fresh estimate must not blend with the old one")
}

func TestComputeFisherClearsModelGrads(t *testing.T) {
	m := newStubModel(0.3)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher([][]Example{examples(0, 1)})

	assert.Zero(t, m.w.Grad[0], "estimation must not leak gradients into training")
}

func TestAddPenaltyGrad(t *testing.T) {
	m := newStubModel(0.0)
	g := NewGuard(m, 100)
	g.ComputeFisher([][]Example{examples(0)})
	fisher := g.Fisher()["stub.weight"][0]

	m.w.Value[0] = 2.0
	m.ZeroGrad()
	g.AddPenaltyGrad()

	want := 2 * 100.0 * fisher * 2.0
	assert.InDelta(t, want, m.w.Grad[0], 1e-12)
}

func TestSnapshotImmutable(t *testing.T) {
	m := newStubModel(0.7)
	g := NewGuard(m, DefaultLambda)

	snap := g.Snapshot()
	snap["stub.weight"][0] = 99

	assert.Equal(t, 0.7, g.Snapshot()["stub.weight"][0], "exported snapshot is a copy")
}

func TestRestoreRoundtrip(t *testing.T) {
	m := newStubModel(0.7)
	g := NewGuard(m, DefaultLambda)
	g.ComputeFisher([][]Example{examples(0, 1)})
	m.w.Value[0] = 1.2
	wantPenalty := g.Penalty()

	fresh := NewGuard(m, DefaultLambda)
	fresh.Restore(g.Snapshot(), g.Fisher())
	assert.InDelta(t, wantPenalty, fresh.Penalty(), 1e-12)
}
