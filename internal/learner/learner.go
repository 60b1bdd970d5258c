// Package learner orchestrates periodic retraining from replayed samples,
// regularized against catastrophic forgetting.
package learner

import (
	"log/slog"

	"synthdetect/internal/calibrate"
	"synthdetect/internal/ewc"
	"synthdetect/internal/replay"
)

// Config bounds one retraining invocation.
type Config struct {
	LearningRate       float64
	MinLearningRate    float64
	WeightDecay        float64
	ScheduleSteps      int
	LambdaEWC          float64
	MaxBatchesPerEpoch int
	FisherSampleCap    int
}

// DefaultConfig returns the stock training bounds.
func DefaultConfig() Config {
	return Config{
		LearningRate:       1e-4,
		MinLearningRate:    1e-6,
		WeightDecay:        1e-5,
		ScheduleSteps:      100,
		LambdaEWC:          ewc.DefaultLambda,
		MaxBatchesPerEpoch: 10,
		FisherSampleCap:    100,
	}
}

// Learner drives incremental training of the model from the replay store.
// All calls block; offloading long retraining runs to a background worker
// is the caller's concern.
type Learner struct {
	model      ewc.Model
	calibrator *calibrate.Calibrator
	store      *replay.Store

	guard *ewc.Guard
	opt   *AdamW
	sched *CosineSchedule
	focal FocalLoss
	cfg   Config
	log   *slog.Logger
}

// New wires a learner to its model, calibrator, and sample store.
func New(m ewc.Model, calibrator *calibrate.Calibrator, store *replay.Store, cfg Config, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		model:      m,
		calibrator: calibrator,
		store:      store,
		opt:        NewAdamW(cfg.WeightDecay),
		sched:      NewCosineSchedule(cfg.LearningRate, cfg.MinLearningRate, cfg.ScheduleSteps),
		focal:      NewFocalLoss(),
		cfg:        cfg,
		log:        logger,
	}
}

// Guard returns the forgetting guard, or nil if retraining has never run.
func (l *Learner) Guard() *ewc.Guard {
	return l.guard
}

// RestoreGuard reconstructs the guard from checkpointed snapshot and
// Fisher maps, preserving the first-retraining-only Fisher behavior across
// process restarts.
func (l *Learner) RestoreGuard(snapshot, fisher map[string][]float64) {
	if len(snapshot) == 0 && len(fisher) == 0 {
		return
	}
	l.guard = ewc.NewGuard(l.model, l.cfg.LambdaEWC)
	l.guard.Restore(snapshot, fisher)
}

// Train runs one retraining invocation: up to numEpochs epochs of at most
// MaxBatchesPerEpoch mini-batches each, drawn from the replay store,
// optimizing focal loss on calibrated logits plus the consolidation
// penalty. If the store holds fewer samples than one batch the call is a
// warning-level no-op that leaves all state untouched. Mini-batches
// reduced below two labeled samples are skipped, not retried.
func (l *Learner) Train(numEpochs, batchSize int) error {
	if numEpochs <= 0 || batchSize <= 0 {
		l.log.Warn("retraining skipped: non-positive epochs or batch size",
			"epochs", numEpochs, "batch_size", batchSize)
		return nil
	}
	if l.store.Len() < batchSize {
		l.log.Warn("retraining skipped: not enough replay samples",
			"have", l.store.Len(), "need", batchSize)
		return nil
	}

	l.log.Info("incremental training started",
		"samples", l.store.Len(), "epochs", numEpochs, "batch_size", batchSize)

	// Fisher importance is estimated once, on the first retraining call
	// for this model instance, and deliberately never refreshed.
	if l.guard == nil {
		l.guard = ewc.NewGuard(l.model, l.cfg.LambdaEWC)
		l.guard.ComputeFisher(l.fisherBatches(batchSize))
	}

	for epoch := 0; epoch < numEpochs; epoch++ {
		batches := l.store.Len() / batchSize
		if batches > l.cfg.MaxBatchesPerEpoch {
			batches = l.cfg.MaxBatchesPerEpoch
		}

		epochLoss := 0.0
		stepped := 0
		for b := 0; b < batches; b++ {
			loss, ok := l.trainBatch(batchSize)
			if !ok {
				continue
			}
			epochLoss += loss
			stepped++
		}
		if stepped > 0 {
			l.log.Info("epoch finished",
				"epoch", epoch+1, "epochs", numEpochs,
				"avg_loss", epochLoss/float64(stepped), "batches", stepped)
		}
	}

	l.sched.Step()
	l.log.Info("incremental training finished", "lr_next", l.sched.LR())
	return nil
}

// trainBatch samples, filters, and applies one optimizer step. Returns
// false when the batch had fewer than two labeled samples.
func (l *Learner) trainBatch(batchSize int) (float64, bool) {
	samples := l.store.SampleBatch(batchSize)
	labeled := make([]*replay.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Labeled() {
			labeled = append(labeled, s)
		}
	}
	if len(labeled) < 2 {
		return 0, false
	}

	l.model.ZeroGrad()
	t := l.calibrator.Temperature()
	scale := 1.0 / float64(len(labeled))

	lossSum := 0.0
	for _, s := range labeled {
		logits := l.model.Forward(s.Image)
		calibrated := l.calibrator.Scale(logits)
		loss, dCal := l.focal.Loss(calibrated, *s.GroundTruth)
		lossSum += loss
		// The temperature is held fixed during retraining; its 1/t factor
		// still chains into the raw-logit gradient.
		l.model.Backward([2]float64{dCal[0] / t * scale, dCal[1] / t * scale})
	}

	penalty := l.guard.Penalty()
	l.guard.AddPenaltyGrad()
	l.opt.Step(l.model.Params(), l.sched.LR())

	return lossSum*scale + penalty, true
}

// fisherBatches assembles labeled batches for the one-time Fisher
// estimate, capped at FisherSampleCap samples. Unlabeled samples cannot
// contribute and are dropped; with no labeled samples at all the Fisher
// stays zero and consolidation is a no-op until parameters drift.
func (l *Learner) fisherBatches(batchSize int) [][]ewc.Example {
	limit := l.cfg.FisherSampleCap
	if l.store.Len() < limit {
		limit = l.store.Len()
	}
	samples := l.store.SampleBatch(limit)

	var examples []ewc.Example
	for _, s := range samples {
		if s.Labeled() {
			examples = append(examples, ewc.Example{Image: s.Image, Label: *s.GroundTruth})
		}
	}

	var batches [][]ewc.Example
	for start := 0; start < len(examples); start += batchSize {
		end := start + batchSize
		if end > len(examples) {
			end = len(examples)
		}
		batches = append(batches, examples[start:end])
	}
	return batches
}
