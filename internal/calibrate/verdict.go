package calibrate

// Class indices used throughout the pipeline.
const (
	ClassReal      = 0
	ClassSynthetic = 1
)

// Verdict is the three-way outcome of a gated prediction.
type Verdict string

const (
	VerdictReal      Verdict = "real"
	VerdictSynthetic Verdict = "synthetic"
	VerdictUncertain Verdict = "uncertain"
)

// Decision is the policy's view of one calibrated logit pair.
type Decision struct {
	Class         int
	Probabilities [2]float64
	Confidence    float64
	Verdict       Verdict
	Uncertain     bool
}

// Policy gates calibrated probabilities into a verdict. A model that is
// only mildly more likely to call an image real than synthetic must not
// report a confident "real", so any confidence below the threshold yields
// an uncertain verdict regardless of which class won. The threshold is
// adjustable at runtime without retraining.
type Policy struct {
	threshold float64
}

// DefaultUncertaintyThreshold is the gate below which verdicts are
// withheld.
const DefaultUncertaintyThreshold = 0.75

// NewPolicy creates a policy with the given uncertainty threshold.
// Non-positive thresholds fall back to the default and thresholds above 1
// clamp to 1.
func NewPolicy(threshold float64) *Policy {
	p := &Policy{}
	p.SetThreshold(threshold)
	return p
}

// Threshold returns the current uncertainty threshold.
func (p *Policy) Threshold() float64 {
	return p.threshold
}

// SetThreshold adjusts the gate at runtime. Non-positive values fall back
// to the default and values above 1 clamp to 1, matching NewPolicy.
func (p *Policy) SetThreshold(threshold float64) {
	switch {
	case threshold <= 0:
		threshold = DefaultUncertaintyThreshold
	case threshold > 1:
		threshold = 1
	}
	p.threshold = threshold
}

// Evaluate converts calibrated logits into a gated decision. The boundary
// is inclusive on the certain side: confidence exactly at the threshold is
// not uncertain.
func (p *Policy) Evaluate(calibrated [2]float64) Decision {
	probs := Softmax(calibrated)
	class := ClassReal
	if probs[ClassSynthetic] > probs[ClassReal] {
		class = ClassSynthetic
	}
	confidence := probs[class]

	d := Decision{
		Class:         class,
		Probabilities: probs,
		Confidence:    confidence,
	}
	if confidence < p.threshold {
		d.Verdict = VerdictUncertain
		d.Uncertain = true
		return d
	}
	if class == ClassSynthetic {
		d.Verdict = VerdictSynthetic
	} else {
		d.Verdict = VerdictReal
	}
	return d
}
