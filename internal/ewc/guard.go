// Package ewc implements Elastic Weight Consolidation: a quadratic penalty
// anchoring current parameters to a reference snapshot, weighted by
// per-parameter Fisher importance, so retraining on new feedback cannot
// erase previously learned discrimination ability.
package ewc

import (
	"math"

	"synthdetect/internal/calibrate"
	"synthdetect/internal/nn"
	"synthdetect/pkg/tensor"
)

// DefaultLambda controls the stability/plasticity trade-off. Too low
// permits catastrophic forgetting; too high prevents adaptation entirely.
const DefaultLambda = 1000.0

// Model is the training surface the guard drives during Fisher estimation.
// Backward must consume the gradient of the loss with respect to the raw
// logits of the most recent Forward call.
type Model interface {
	Params() []*nn.Param
	ZeroGrad()
	Forward(img *tensor.Volume) [2]float64
	Backward(dLogits [2]float64)
}

// Example is one labeled image for Fisher estimation.
type Example struct {
	Image *tensor.Volume
	Label int
}

// Guard anchors a model to the parameter values it held at construction
// time. The snapshot is immutable for the guard's lifetime.
type Guard struct {
	model    Model
	lambda   float64
	snapshot map[string][]float64
	fisher   map[string][]float64
}

// NewGuard captures a snapshot of the model's trainable parameters and
// zero-initializes the Fisher importance accumulators.
func NewGuard(m Model, lambda float64) *Guard {
	if lambda <= 0 {
		lambda = DefaultLambda
	}
	g := &Guard{
		model:    m,
		lambda:   lambda,
		snapshot: make(map[string][]float64),
		fisher:   make(map[string][]float64),
	}
	for _, p := range m.Params() {
		snap := make([]float64, len(p.Value))
		copy(snap, p.Value)
		g.snapshot[p.Name] = snap
		g.fisher[p.Name] = make([]float64, len(p.Value))
	}
	return g
}

// ComputeFisher estimates the empirical diagonal Fisher information from
// labeled batches: for each batch it backpropagates the cross-entropy loss
// and accumulates squared gradients, then normalizes by the batch count.
// The previous importance values are replaced wholesale.
func (g *Guard) ComputeFisher(batches [][]Example) {
	fisher := make(map[string][]float64, len(g.snapshot))
	for name, snap := range g.snapshot {
		fisher[name] = make([]float64, len(snap))
	}
	if len(batches) == 0 {
		g.fisher = fisher
		return
	}

	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		g.model.ZeroGrad()
		scale := 1.0 / float64(len(batch))
		for _, ex := range batch {
			logits := g.model.Forward(ex.Image)
			probs := calibrate.Softmax(logits)
			var dLogits [2]float64
			for j := 0; j < 2; j++ {
				y := 0.0
				if ex.Label == j {
					y = 1.0
				}
				dLogits[j] = (probs[j] - y) * scale
			}
			g.model.Backward(dLogits)
		}
		for _, p := range g.model.Params() {
			acc := fisher[p.Name]
			for i, grad := range p.Grad {
				acc[i] += grad * grad
			}
		}
	}

	norm := 1.0 / float64(len(batches))
	for _, acc := range fisher {
		for i := range acc {
			acc[i] *= norm
		}
		sanitize(acc)
	}
	g.model.ZeroGrad()
	g.fisher = fisher
}

// Penalty returns lambda * Σ Fisher ⊙ (θ − θ_snapshot)², summed over all
// parameters. Immediately after construction this is exactly zero.
func (g *Guard) Penalty() float64 {
	total := 0.0
	for _, p := range g.model.Params() {
		snap := g.snapshot[p.Name]
		fisher := g.fisher[p.Name]
		for i, v := range p.Value {
			d := v - snap[i]
			total += fisher[i] * d * d
		}
	}
	return g.lambda * total
}

// AddPenaltyGrad accumulates the penalty's gradient, 2λF(θ − θ*), into the
// parameter gradients.
func (g *Guard) AddPenaltyGrad() {
	for _, p := range g.model.Params() {
		snap := g.snapshot[p.Name]
		fisher := g.fisher[p.Name]
		for i, v := range p.Value {
			p.Grad[i] += 2 * g.lambda * fisher[i] * (v - snap[i])
		}
	}
}

// Snapshot exposes the frozen reference parameters for checkpointing.
func (g *Guard) Snapshot() map[string][]float64 {
	return copyMap(g.snapshot)
}

// Fisher exposes the current importance estimates for checkpointing.
func (g *Guard) Fisher() map[string][]float64 {
	return copyMap(g.fisher)
}

// Restore installs snapshot and Fisher maps loaded from a checkpoint.
// Entries for unknown parameters are dropped; missing entries stay zero.
func (g *Guard) Restore(snapshot, fisher map[string][]float64) {
	for name, dst := range g.snapshot {
		if src, ok := snapshot[name]; ok && len(src) == len(dst) {
			copy(dst, src)
		}
	}
	for name, dst := range g.fisher {
		if src, ok := fisher[name]; ok && len(src) == len(dst) {
			copy(dst, src)
		}
	}
}

func copyMap(m map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(m))
	for name, vals := range m {
		c := make([]float64, len(vals))
		copy(c, vals)
		out[name] = c
	}
	return out
}

// sanitize guards against non-finite importance values produced by a
// diverging loss; they would otherwise poison every later penalty.
func sanitize(vals []float64) {
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			vals[i] = 0
		}
	}
}
