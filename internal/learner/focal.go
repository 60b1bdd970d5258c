package learner

import (
	"math"

	"synthdetect/internal/calibrate"
)

// FocalLoss down-weights easy examples so training concentrates on the
// hard, misclassified ones, which is where user feedback accumulates.
type FocalLoss struct {
	Alpha float64
	Gamma float64
}

// NewFocalLoss returns the loss with the stock parameters.
func NewFocalLoss() FocalLoss {
	return FocalLoss{Alpha: 1.0, Gamma: 2.0}
}

// Loss computes the focal loss for one logit pair and its gradient with
// respect to the logits.
//
// With ce the cross entropy and pt = exp(-ce) the true-class probability,
// the loss is alpha*(1-pt)^gamma*ce; the gradient chains d(loss)/d(ce)
// through the usual softmax-minus-onehot term.
func (f FocalLoss) Loss(logits [2]float64, label int) (float64, [2]float64) {
	probs := calibrate.Softmax(logits)
	pt := math.Max(probs[label], 1e-12)
	ce := -math.Log(pt)

	modulator := math.Pow(1-pt, f.Gamma)
	loss := f.Alpha * modulator * ce

	// d(loss)/d(ce) = alpha * [(1-pt)^g + ce*g*(1-pt)^(g-1)*pt]
	dCE := f.Alpha * modulator
	if f.Gamma > 0 && pt < 1 {
		dCE += f.Alpha * ce * f.Gamma * math.Pow(1-pt, f.Gamma-1) * pt
	}

	var grad [2]float64
	for j := 0; j < 2; j++ {
		y := 0.0
		if label == j {
			y = 1.0
		}
		grad[j] = dCE * (probs[j] - y)
	}
	return loss, grad
}
