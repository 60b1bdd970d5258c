// Package config handles configuration loading and validation for the
// detector.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of the detection pipeline. Defaults match the
// reference behavior; a TOML file overlays them.
type Config struct {
	Model       ModelConfig       `toml:"model"`
	Verdict     VerdictConfig     `toml:"verdict"`
	Replay      ReplayConfig      `toml:"replay"`
	Training    TrainingConfig    `toml:"training"`
	Calibration CalibrationConfig `toml:"calibration"`
}

// ModelConfig configures the fusion model and its input contract.
type ModelConfig struct {
	// InputSize is the square side length images are scaled to.
	InputSize int `toml:"input_size"`

	// Seed makes parameter initialization reproducible.
	Seed int64 `toml:"seed"`

	// BackboneGrid is the spatial resolution of the stand-in encoder.
	BackboneGrid int `toml:"backbone_grid"`
}

// VerdictConfig configures uncertainty gating and replay capture.
type VerdictConfig struct {
	// UncertaintyThreshold gates verdicts; below it the verdict is
	// "uncertain" regardless of the winning class.
	UncertaintyThreshold float64 `toml:"uncertainty_threshold"`

	// CaptureThreshold is the confidence below which predictions are
	// added to the replay store even when not gated.
	CaptureThreshold float64 `toml:"capture_threshold"`
}

// ReplayConfig bounds the sample store.
type ReplayConfig struct {
	Capacity int `toml:"capacity"`
}

// TrainingConfig bounds incremental retraining.
type TrainingConfig struct {
	Epochs             int     `toml:"epochs"`
	BatchSize          int     `toml:"batch_size"`
	LearningRate       float64 `toml:"learning_rate"`
	MinLearningRate    float64 `toml:"min_learning_rate"`
	WeightDecay        float64 `toml:"weight_decay"`
	ScheduleSteps      int     `toml:"schedule_steps"`
	LambdaEWC          float64 `toml:"lambda_ewc"`
	MaxBatchesPerEpoch int     `toml:"max_batches_per_epoch"`
	FisherSampleCap    int     `toml:"fisher_sample_cap"`
}

// CalibrationConfig bounds the offline temperature fit.
type CalibrationConfig struct {
	MaxIterations int `toml:"max_iterations"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			InputSize:    224,
			Seed:         1,
			BackboneGrid: 7,
		},
		Verdict: VerdictConfig{
			UncertaintyThreshold: 0.75,
			CaptureThreshold:     0.8,
		},
		Replay: ReplayConfig{
			Capacity: 10000,
		},
		Training: TrainingConfig{
			Epochs:             5,
			BatchSize:          16,
			LearningRate:       1e-4,
			MinLearningRate:    1e-6,
			WeightDecay:        1e-5,
			ScheduleSteps:      100,
			LambdaEWC:          1000,
			MaxBatchesPerEpoch: 10,
			FisherSampleCap:    100,
		},
		Calibration: CalibrationConfig{
			MaxIterations: 50,
		},
	}
}

// Load overlays a TOML file onto the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Model.InputSize <= 0 {
		return fmt.Errorf("model.input_size must be positive, got %d", c.Model.InputSize)
	}
	if c.Verdict.UncertaintyThreshold <= 0 || c.Verdict.UncertaintyThreshold > 1 {
		return fmt.Errorf("verdict.uncertainty_threshold must be in (0,1], got %g", c.Verdict.UncertaintyThreshold)
	}
	if c.Replay.Capacity <= 0 {
		return fmt.Errorf("replay.capacity must be positive, got %d", c.Replay.Capacity)
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize)
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive, got %g", c.Training.LearningRate)
	}
	return nil
}
