// Package replay implements the capacity-bounded sample store that feeds
// incremental retraining. Samples carrying human feedback are
// over-represented when sampling, since corrected predictions are the
// strongest signal about the model's actual errors.
package replay

import (
	"fmt"
	"math/rand"
	"sync"

	"synthdetect/pkg/tensor"
)

// DefaultCapacity bounds the store when no explicit capacity is configured.
const DefaultCapacity = 10000

// feedbackFraction of every sampled batch is drawn from feedback-bearing
// samples when enough of them exist.
const feedbackFraction = 0.7

// Sample is one stored prediction. The image is an owned copy detached
// from the caller's buffers. GroundTruth and UserFeedback start unset and
// may each be set exactly once by a feedback call.
type Sample struct {
	Image        *tensor.Volume `json:"image"`
	Prediction   int            `json:"prediction"`
	Confidence   float64        `json:"confidence"`
	GroundTruth  *int           `json:"ground_truth,omitempty"`
	UserFeedback *int           `json:"user_feedback,omitempty"`
	Seq          uint64         `json:"seq"`
}

// Labeled reports whether the sample carries a ground-truth label and can
// contribute to a supervised loss.
func (s *Sample) Labeled() bool {
	return s.GroundTruth != nil
}

// Store is an append-only, capacity-bounded sample store with
// feedback-aware prioritized sampling. Callers needing concurrent access
// from multiple goroutines must serialize retraining externally; the
// mutex only protects the slice bookkeeping.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rng      *rand.Rand
	samples  []*Sample
	nextSeq  uint64
}

// NewStore creates a store bounded to the given capacity. The rng drives
// batch sampling; injecting it keeps retraining reproducible for a fixed
// seed. A nil rng falls back to a fixed-seed source.
func NewStore(capacity int, rng *rand.Rand) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Store{capacity: capacity, rng: rng}
}

// Add appends a sample, copying the image so later mutation of the
// caller's tensor cannot corrupt the stored one. When the store is at
// capacity the oldest sample is evicted first.
func (s *Store) Add(img *tensor.Volume, prediction int, confidence float64, groundTruth, userFeedback *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample := &Sample{
		Image:        img.Clone(),
		Prediction:   prediction,
		Confidence:   confidence,
		GroundTruth:  copyLabel(groundTruth),
		UserFeedback: copyLabel(userFeedback),
		Seq:          s.nextSeq,
	}
	s.nextSeq++
	s.samples = append(s.samples, sample)
	if len(s.samples) > s.capacity {
		s.samples = s.samples[1:]
	}
}

// RecordFeedback sets the ground truth, and optionally a user feedback
// label, on the most recently inserted sample. Each field may be written
// only once.
func (s *Store) RecordFeedback(groundTruth int, userFeedback *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return fmt.Errorf("no samples to attach feedback to")
	}
	last := s.samples[len(s.samples)-1]
	if last.GroundTruth != nil {
		return fmt.Errorf("sample %d already has ground truth", last.Seq)
	}
	gt := groundTruth
	last.GroundTruth = &gt
	if userFeedback != nil && last.UserFeedback == nil {
		last.UserFeedback = copyLabel(userFeedback)
	}
	return nil
}

// Len returns the number of stored samples.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// SampleBatch draws up to batchSize samples without replacement. If fewer
// samples exist than requested, all of them are returned. Otherwise 70% of
// the batch is drawn from the feedback-bearing subset and the remainder
// from the rest, each capped by its subset size, with any shortfall filled
// from whichever subset has samples left. Drawing advances the rng, so
// this takes the write lock.
func (s *Store) SampleBatch(batchSize int) []*Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batchSize <= 0 {
		return nil
	}
	if len(s.samples) <= batchSize {
		out := make([]*Sample, len(s.samples))
		copy(out, s.samples)
		return out
	}

	var withFeedback, without []*Sample
	for _, sample := range s.samples {
		if sample.UserFeedback != nil {
			withFeedback = append(withFeedback, sample)
		} else {
			without = append(without, sample)
		}
	}

	feedbackCount := min(int(float64(batchSize)*feedbackFraction), len(withFeedback))
	restCount := min(batchSize-feedbackCount, len(without))

	selected := make([]*Sample, 0, batchSize)
	fbPerm := s.rng.Perm(len(withFeedback))
	noPerm := s.rng.Perm(len(without))
	selected = append(selected, pick(withFeedback, fbPerm[:feedbackCount])...)
	selected = append(selected, pick(without, noPerm[:restCount])...)

	// Fill any shortfall from whichever subset still has unused samples.
	for _, idx := range fbPerm[feedbackCount:] {
		if len(selected) >= batchSize {
			break
		}
		selected = append(selected, withFeedback[idx])
	}
	for _, idx := range noPerm[restCount:] {
		if len(selected) >= batchSize {
			break
		}
		selected = append(selected, without[idx])
	}
	return selected
}

// Snapshot returns a serializable copy of the store contents for
// checkpointing.
func (s *Store) Snapshot() []*Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Sample, len(s.samples))
	for i, sample := range s.samples {
		clone := *sample
		clone.Image = sample.Image.Clone()
		clone.GroundTruth = copyLabel(sample.GroundTruth)
		clone.UserFeedback = copyLabel(sample.UserFeedback)
		out[i] = &clone
	}
	return out
}

// Restore replaces the store contents from a checkpoint snapshot, keeping
// the capacity bound and resuming the insertion counter past the highest
// restored sequence number.
func (s *Store) Restore(samples []*Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(samples) > s.capacity {
		samples = samples[len(samples)-s.capacity:]
	}
	s.samples = make([]*Sample, len(samples))
	copy(s.samples, samples)
	s.nextSeq = 0
	for _, sample := range samples {
		if sample.Seq >= s.nextSeq {
			s.nextSeq = sample.Seq + 1
		}
	}
}

func pick(samples []*Sample, indices []int) []*Sample {
	out := make([]*Sample, 0, len(indices))
	for _, i := range indices {
		out = append(out, samples[i])
	}
	return out
}

func copyLabel(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
