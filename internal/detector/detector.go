// Package detector wires the fusion model, calibration, uncertainty
// gating, replay capture, continual learning, and saliency into the
// single pipeline callers interact with. All calls block and the pipeline
// assumes single-threaded use; concurrent callers must serialize
// externally.
package detector

import (
	"fmt"
	"log/slog"
	"math/rand"

	"synthdetect/internal/calibrate"
	"synthdetect/internal/checkpoint"
	"synthdetect/internal/config"
	"synthdetect/internal/learner"
	"synthdetect/internal/model"
	"synthdetect/internal/replay"
	"synthdetect/internal/saliency"
	"synthdetect/pkg/tensor"
)

// Prediction is the outbound record of one inference call. It is created
// once and never mutated afterwards.
type Prediction struct {
	Logits           [2]float64        `json:"logits"`
	CalibratedLogits [2]float64        `json:"calibrated_logits"`
	Probabilities    [2]float64        `json:"probabilities"`
	Class            int               `json:"class"`
	Confidence       float64           `json:"confidence"`
	Verdict          calibrate.Verdict `json:"verdict"`
	Uncertain        bool              `json:"uncertain"`
	Heatmap          *tensor.Plane     `json:"heatmap,omitempty"`
}

// Stats summarizes the detector's prediction history.
type Stats struct {
	Total             int     `json:"total"`
	Uncertain         int     `json:"uncertain"`
	Synthetic         int     `json:"synthetic"`
	Real              int     `json:"real"`
	AverageConfidence float64 `json:"average_confidence"`
	Temperature       float64 `json:"temperature"`
	ReplaySize        int     `json:"replay_size"`
}

// Detector is the complete detection pipeline.
type Detector struct {
	cfg        config.Config
	model      *model.Model
	calibrator *calibrate.Calibrator
	policy     *calibrate.Policy
	store      *replay.Store
	learner    *learner.Learner
	mapper     *saliency.Mapper
	log        *slog.Logger

	total         int
	uncertain     int
	synthetic     int
	real          int
	confidenceSum float64
}

// New builds a detector from configuration. A nil backbone gets the
// built-in patch-statistics encoder.
func New(cfg config.Config, backbone model.Backbone, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if backbone == nil {
		backbone = model.NewPatchBackbone(cfg.Model.BackboneGrid)
	}

	m := model.New(backbone, cfg.Model.Seed)
	calibrator := calibrate.NewCalibrator()
	store := replay.NewStore(cfg.Replay.Capacity, rand.New(rand.NewSource(cfg.Model.Seed)))

	return &Detector{
		cfg:        cfg,
		model:      m,
		calibrator: calibrator,
		policy:     calibrate.NewPolicy(cfg.Verdict.UncertaintyThreshold),
		store:      store,
		learner: learner.New(m, calibrator, store, learner.Config{
			LearningRate:       cfg.Training.LearningRate,
			MinLearningRate:    cfg.Training.MinLearningRate,
			WeightDecay:        cfg.Training.WeightDecay,
			ScheduleSteps:      cfg.Training.ScheduleSteps,
			LambdaEWC:          cfg.Training.LambdaEWC,
			MaxBatchesPerEpoch: cfg.Training.MaxBatchesPerEpoch,
			FisherSampleCap:    cfg.Training.FisherSampleCap,
		}, logger),
		mapper: saliency.NewMapper(m),
		log:    logger,
	}
}

// Model exposes the underlying fusion model for diagnostics and tests.
func (d *Detector) Model() *model.Model {
	return d.model
}

// Store exposes the replay store.
func (d *Detector) Store() *replay.Store {
	return d.store
}

// Temperature returns the current calibration temperature.
func (d *Detector) Temperature() float64 {
	return d.calibrator.Temperature()
}

// Predict classifies one image tensor. Predictions gated as uncertain or
// below the capture threshold are copied into the replay store so feedback
// can later attach to them. Saliency failures yield a prediction without a
// heatmap rather than an error.
func (d *Detector) Predict(img *tensor.Volume, withHeatmap bool) *Prediction {
	logits := d.model.Forward(img)
	calibrated := d.calibrator.Scale(logits)
	decision := d.policy.Evaluate(calibrated)

	p := &Prediction{
		Logits:           logits,
		CalibratedLogits: calibrated,
		Probabilities:    decision.Probabilities,
		Class:            decision.Class,
		Confidence:       decision.Confidence,
		Verdict:          decision.Verdict,
		Uncertain:        decision.Uncertain,
	}

	d.total++
	d.confidenceSum += p.Confidence
	switch p.Verdict {
	case calibrate.VerdictUncertain:
		d.uncertain++
	case calibrate.VerdictSynthetic:
		d.synthetic++
	case calibrate.VerdictReal:
		d.real++
	}

	if p.Uncertain || p.Confidence < d.cfg.Verdict.CaptureThreshold {
		d.store.Add(img, p.Class, p.Confidence, nil, nil)
	}

	if withHeatmap {
		heatmap, err := d.mapper.Heatmap(img, p.Class)
		if err != nil {
			d.log.Warn("saliency computation failed", "error", err)
		} else {
			p.Heatmap = heatmap
		}
	}
	return p
}

// RecordFeedback attaches a ground-truth label, and optionally a user
// feedback label, to the most recently captured sample.
func (d *Detector) RecordFeedback(groundTruth int, userFeedback *int) error {
	if err := d.store.RecordFeedback(groundTruth, userFeedback); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	d.log.Info("feedback recorded", "ground_truth", groundTruth, "has_user_feedback", userFeedback != nil)
	return nil
}

// IncrementalTrain runs one bounded retraining invocation over the replay
// store. Non-positive arguments fall back to the configured defaults. With
// too few samples the call is a no-op warning and every piece of model
// state is left unchanged.
func (d *Detector) IncrementalTrain(numEpochs, batchSize int) error {
	if numEpochs <= 0 {
		numEpochs = d.cfg.Training.Epochs
	}
	if batchSize <= 0 {
		batchSize = d.cfg.Training.BatchSize
	}
	return d.learner.Train(numEpochs, batchSize)
}

// CalibrateTemperature fits the scaling temperature on held-out
// logit/label pairs. This is an offline operation.
func (d *Detector) CalibrateTemperature(logits [][2]float64, labels []int) (float64, error) {
	t, err := d.calibrator.Fit(logits, labels, calibrate.FitOptions{
		MaxIterations: d.cfg.Calibration.MaxIterations,
	})
	if err != nil {
		return t, err
	}
	d.log.Info("temperature calibrated", "temperature", t)
	return t, nil
}

// SetUncertaintyThreshold adjusts the verdict gate at runtime.
func (d *Detector) SetUncertaintyThreshold(threshold float64) {
	d.policy.SetThreshold(threshold)
	d.log.Info("uncertainty threshold updated", "threshold", threshold)
}

// Stats returns the running prediction statistics.
func (d *Detector) Stats() Stats {
	avg := 0.0
	if d.total > 0 {
		avg = d.confidenceSum / float64(d.total)
	}
	return Stats{
		Total:             d.total,
		Uncertain:         d.uncertain,
		Synthetic:         d.synthetic,
		Real:              d.real,
		AverageConfidence: avg,
		Temperature:       d.calibrator.Temperature(),
		ReplaySize:        d.store.Len(),
	}
}

// Save checkpoints parameters, temperature, replay contents, and the
// consolidation state. Failures are logged and reported but leave the
// in-memory detector fully operational.
func (d *Detector) Save(path string) error {
	st := &checkpoint.State{
		Params:      d.model.ParamValues(),
		Temperature: d.calibrator.Temperature(),
		Replay:      d.store.Snapshot(),
	}
	if guard := d.learner.Guard(); guard != nil {
		st.Fisher = guard.Fisher()
		st.Snapshot = guard.Snapshot()
	}
	if err := checkpoint.Save(path, st); err != nil {
		d.log.Error("checkpoint save failed", "path", path, "error", err)
		return err
	}
	d.log.Info("checkpoint saved", "path", path, "replay_size", len(st.Replay))
	return nil
}

// Restore loads a checkpoint written by Save. On failure the detector
// keeps whatever state it had.
func (d *Detector) Restore(path string) error {
	st, err := checkpoint.Load(path)
	if err != nil {
		d.log.Error("checkpoint load failed", "path", path, "error", err)
		return err
	}
	d.model.Restore(st.Params)
	d.calibrator.SetTemperature(st.Temperature)
	d.store.Restore(st.Replay)
	d.learner.RestoreGuard(st.Snapshot, st.Fisher)
	d.log.Info("checkpoint restored", "path", path, "replay_size", len(st.Replay))
	return nil
}
