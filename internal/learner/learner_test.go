package learner

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthdetect/internal/calibrate"
	"synthdetect/internal/model"
	"synthdetect/internal/replay"
	"synthdetect/pkg/tensor"
)

func newTestLearner(t *testing.T) (*Learner, *model.Model, *calibrate.Calibrator, *replay.Store) {
	t.Helper()
	m := model.New(model.NewPatchBackbone(7), 1)
	calibrator := calibrate.NewCalibrator()
	store := replay.NewStore(100, nil)
	l := New(m, calibrator, store, DefaultConfig(), nil)
	return l, m, calibrator, store
}

func labeledImage(store *replay.Store, t *testing.T, seed int64, label int) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := tensor.NewVolume(3, 32, 32)
	for i := range img.Data {
		img.Data[i] = rng.Float64()
	}
	store.Add(img, label, 0.5, nil, nil)
	require.NoError(t, store.RecordFeedback(label, nil))
}

func TestTrainNoOpWithTooFewSamples(t *testing.T) {
	l, m, calibrator, store := newTestLearner(t)
	for i := 0; i < 3; i++ {
		labeledImage(store, t, int64(i), i%2)
	}

	before := m.ParamValues()
	require.NoError(t, l.Train(2, 8))

	assert.Nil(t, l.Guard(), "a skipped run must not anchor the model")
	assert.Equal(t, 1.5, calibrator.Temperature())
	for name, vals := range m.ParamValues() {
		assert.Equal(t, before[name], vals, "parameter %s", name)
	}
}

func TestTrainNoOpWithNonPositiveArgs(t *testing.T) {
	l, m, _, store := newTestLearner(t)
	for i := 0; i < 8; i++ {
		labeledImage(store, t, int64(i), i%2)
	}

	before := m.ParamValues()
	require.NoError(t, l.Train(0, 4))
	require.NoError(t, l.Train(2, 0))

	assert.Nil(t, l.Guard())
	for name, vals := range m.ParamValues() {
		assert.Equal(t, before[name], vals, "parameter %s", name)
	}
}

func TestTrainUpdatesParameters(t *testing.T) {
	l, m, calibrator, store := newTestLearner(t)
	for i := 0; i < 8; i++ {
		labeledImage(store, t, int64(i), i%2)
	}

	before := m.ParamValues()
	require.NoError(t, l.Train(1, 4))

	require.NotNil(t, l.Guard())
	changed := false
	for name, vals := range m.ParamValues() {
		for i, v := range vals {
			assert.False(t, math.IsNaN(v), "parameter %s[%d]", name, i)
			if v != before[name][i] {
				changed = true
			}
		}
	}
	assert.True(t, changed, "training on labeled samples must move parameters")
	assert.Equal(t, 1.5, calibrator.Temperature(), "temperature is held fixed during retraining")
}

func TestTrainSnapshotTakenOnce(t *testing.T) {
	l, _, _, store := newTestLearner(t)
	for i := 0; i < 8; i++ {
		labeledImage(store, t, int64(i), i%2)
	}

	require.NoError(t, l.Train(1, 4))
	first := l.Guard()
	require.NotNil(t, first)

	require.NoError(t, l.Train(1, 4))
	assert.Same(t, first, l.Guard(), "later invocations reuse the original anchor")
}

func TestTrainSkipsUnderfilledBatches(t *testing.T) {
	l, m, _, store := newTestLearner(t)
	// Enough samples to start, but only one carries a label.
	labeledImage(store, t, 0, 0)
	for i := 1; i < 4; i++ {
		img := tensor.NewVolume(3, 32, 32)
		store.Add(img, 0, 0.5, nil, nil)
	}

	before := m.ParamValues()
	require.NoError(t, l.Train(1, 4))

	assert.NotNil(t, l.Guard(), "the anchor is still established")
	for name, vals := range m.ParamValues() {
		assert.Equal(t, before[name], vals, "parameter %s", name)
	}
}

func TestTrainAdvancesSchedulePerInvocation(t *testing.T) {
	l, _, _, store := newTestLearner(t)
	for i := 0; i < 8; i++ {
		labeledImage(store, t, int64(i), i%2)
	}

	start := l.sched.LR()
	require.NoError(t, l.Train(1, 4))
	afterOne := l.sched.LR()
	require.NoError(t, l.Train(3, 4))
	afterTwo := l.sched.LR()

	assert.Less(t, afterOne, start)
	assert.Less(t, afterTwo, afterOne, "the schedule steps once per invocation, not per epoch")
}

func TestRestoreGuardEmptyIsNoOp(t *testing.T) {
	l, _, _, _ := newTestLearner(t)
	l.RestoreGuard(nil, nil)
	assert.Nil(t, l.Guard())
}

func TestRestoreGuardRebuildsAnchor(t *testing.T) {
	l, m, _, store := newTestLearner(t)
	for i := 0; i < 8; i++ {
		labeledImage(store, t, int64(i), i%2)
	}
	require.NoError(t, l.Train(1, 4))
	guard := l.Guard()
	require.NotNil(t, guard)

	fresh := New(m, calibrate.NewCalibrator(), store, DefaultConfig(), nil)
	fresh.RestoreGuard(guard.Snapshot(), guard.Fisher())
	require.NotNil(t, fresh.Guard())
	assert.InDelta(t, guard.Penalty(), fresh.Guard().Penalty(), 1e-9)
}

func TestFisherBatchesRespectCap(t *testing.T) {
	l, _, _, store := newTestLearner(t)
	cfg := DefaultConfig()
	cfg.FisherSampleCap = 6
	l.cfg = cfg

	for i := 0; i < 20; i++ {
		labeledImage(store, t, int64(i), i%2)
	}

	batches := l.fisherBatches(4)
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.LessOrEqual(t, total, 6)
	assert.Greater(t, total, 0)
}

func TestFisherBatchesDropUnlabeled(t *testing.T) {
	l, _, _, store := newTestLearner(t)
	for i := 0; i < 6; i++ {
		img := tensor.NewVolume(3, 32, 32)
		store.Add(img, 0, 0.5, nil, nil)
	}

	assert.Empty(t, l.fisherBatches(4), "unlabeled samples cannot shape the Fisher estimate")
}
