package anomaly_test

import (
	"context"
	"database/sql"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/hwsentry/internal/anomaly"
	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryHistory struct {
	mu      sync.Mutex
	records []*telemetry.TrainingRecord
}

func (h *memoryHistory) LatestTrainingRecord(context.Context) (*telemetry.TrainingRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return nil, nil
	}
	return h.records[len(h.records)-1], nil
}

func (h *memoryHistory) SaveTrainingRecord(_ context.Context, r *telemetry.TrainingRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.ID = int64(len(h.records) + 1)
	h.records = append(h.records, r)
	return nil
}

type countingStore struct {
	*anomaly.FileArtifactStore
	saves int
}

func (s *countingStore) Save(f *anomaly.Forest, sc *anomaly.Scaler) (anomaly.Artifacts, error) {
	s.saves++
	return s.FileArtifactStore.Save(f, sc)
}

// brokenHistory refuses to record trainings.
type brokenHistory struct{ memoryHistory }

func (*brokenHistory) SaveTrainingRecord(context.Context, *telemetry.TrainingRecord) error {
	return os.ErrPermission
}

// cancelOnSave cancels the training context once the artifacts are written.
type cancelOnSave struct {
	*anomaly.FileArtifactStore
	cancel context.CancelFunc
}

func (s *cancelOnSave) Save(f *anomaly.Forest, sc *anomaly.Scaler) (anomaly.Artifacts, error) {
	refs, err := s.FileArtifactStore.Save(f, sc)
	s.cancel()
	return refs, err
}

func artifactFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	return files
}

func normalSamples(n int, seed int64) []telemetry.MetricSample {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]telemetry.MetricSample, n)
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := range samples {
		samples[i] = telemetry.MetricSample{
			Timestamp:        start.Add(time.Duration(i) * time.Minute),
			CPUPercent:       20 + rng.NormFloat64()*5,
			MemoryPercent:    45 + rng.NormFloat64()*4,
			SwapPercent:      5 + rng.Float64()*2,
			DiskUsagePercent: 60 + rng.Float64(),
			DiskReadCount:    int64(100000 + i*50),
			DiskWriteCount:   int64(80000 + i*40),
			NetworkBytesSent: int64(5_000_000 + i*20_000),
			NetworkBytesRecv: int64(9_000_000 + i*35_000),
			CPUTemp:          sql.NullFloat64{Float64: 48 + rng.NormFloat64()*2, Valid: true},
			FanSpeed:         sql.NullInt64{Int64: int64(1400 + rng.Intn(100)), Valid: true},
		}
	}
	return samples
}

func newDetector(t *testing.T) (*anomaly.Detector, *countingStore, *memoryHistory) {
	t.Helper()
	store := &countingStore{FileArtifactStore: anomaly.NewFileArtifactStore(t.TempDir())}
	history := &memoryHistory{}
	return anomaly.NewDetector(anomaly.DefaultConfig(), store, history, logger.Nop()), store, history
}

func TestPredictWithoutModel(t *testing.T) {
	d, _, _ := newDetector(t)

	for _, s := range normalSamples(5, 1) {
		s := s
		_, ok := d.Predict(&s)
		assert.False(t, ok)
	}
	assert.Nil(t, d.Current())
}

func TestTrainRequiresMinimumSamples(t *testing.T) {
	d, store, history := newDetector(t)

	_, err := d.Train(context.Background(), normalSamples(49, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, anomaly.ErrInsufficientData))
	assert.Zero(t, store.saves, "no partial model may be persisted")
	assert.Empty(t, history.records)
	assert.Nil(t, d.Current())

	record, err := d.Train(context.Background(), normalSamples(50, 1))
	require.NoError(t, err)
	assert.Equal(t, 50, record.TrainingSamples)
	assert.InDelta(t, 0.10, record.Contamination, 1e-9)
	assert.Equal(t, anomaly.FeatureSchema, record.FeatureSchema)
	assert.NotNil(t, d.Current())
}

func TestContamination(t *testing.T) {
	assert.InDelta(t, 0.10, anomaly.Contamination(50), 1e-9)
	assert.InDelta(t, 0.10, anomaly.Contamination(99), 1e-9)
	assert.InDelta(t, 0.05, anomaly.Contamination(100), 1e-9)
}

func TestTrainingSamplesMostlyNormal(t *testing.T) {
	d, _, _ := newDetector(t)
	samples := normalSamples(100, 7)

	record, err := d.Train(context.Background(), samples)
	require.NoError(t, err)

	normal := 0
	for i := range samples {
		p, ok := d.Predict(&samples[i])
		require.True(t, ok)
		if !p.IsAnomaly {
			normal++
		}
	}
	// at most 5% of the training set falls below the calibrated offset
	assert.GreaterOrEqual(t, normal, 95)

	require.True(t, record.PerformanceScore.Valid)
	assert.GreaterOrEqual(t, record.PerformanceScore.Float64, 0.0)
	assert.LessOrEqual(t, record.PerformanceScore.Float64, 1.0)
}

func TestOutlierScoresAnomalous(t *testing.T) {
	d, _, _ := newDetector(t)
	samples := normalSamples(200, 3)
	_, err := d.Train(context.Background(), samples)
	require.NoError(t, err)

	outlier := samples[100]
	outlier.CPUPercent = 99
	outlier.MemoryPercent = 98
	outlier.SwapPercent = 90
	outlier.DiskUsagePercent = 99
	outlier.NetworkBytesSent *= 50
	outlier.NetworkBytesRecv *= 50
	outlier.CPUTemp.Float64 = 95

	p, ok := d.Predict(&outlier)
	require.True(t, ok)
	assert.True(t, p.IsAnomaly)
	assert.Less(t, p.Score, 0.0)
}

func TestTrainIsDeterministic(t *testing.T) {
	samples := normalSamples(120, 11)

	d1, _, _ := newDetector(t)
	d2, _, _ := newDetector(t)
	_, err := d1.Train(context.Background(), samples)
	require.NoError(t, err)
	_, err = d2.Train(context.Background(), samples)
	require.NoError(t, err)

	for i := range samples {
		p1, _ := d1.Predict(&samples[i])
		p2, _ := d2.Predict(&samples[i])
		assert.Equal(t, p1, p2)
	}
}

func TestTrainCancelled(t *testing.T) {
	d, store, history := newDetector(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Train(ctx, normalSamples(60, 1))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, anomaly.ErrTrainingAborted))
	assert.Zero(t, store.saves)
	assert.Empty(t, history.records)
	assert.Nil(t, d.Current())
}

func TestTrainLeavesNothingWhenRecordFails(t *testing.T) {
	dir := t.TempDir()
	d := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), &brokenHistory{}, logger.Nop())

	_, err := d.Train(context.Background(), normalSamples(60, 4))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, anomaly.ErrTrainingFailed))
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Nil(t, d.Current())
	assert.Empty(t, artifactFiles(t, dir))

	fresh := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), &memoryHistory{}, logger.Nop())
	require.NoError(t, fresh.Load(context.Background()))
	assert.Nil(t, fresh.Current())
}

func TestTrainCancelledAfterSave(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history := &memoryHistory{}
	artifacts := &cancelOnSave{FileArtifactStore: anomaly.NewFileArtifactStore(dir), cancel: cancel}
	d := anomaly.NewDetector(anomaly.DefaultConfig(), artifacts, history, logger.Nop())

	_, err := d.Train(ctx, normalSamples(60, 6))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, anomaly.ErrTrainingAborted))
	assert.Empty(t, history.records)
	assert.Nil(t, d.Current())
	assert.Empty(t, artifactFiles(t, dir))
}

func TestTrainPromotesRecordedModel(t *testing.T) {
	dir := t.TempDir()
	history := &memoryHistory{}
	d := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), history, logger.Nop())

	record, err := d.Train(context.Background(), normalSamples(60, 8))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		record.ModelRef,
		record.ScalerRef,
		filepath.Join(dir, "hardware_health_model.json"),
		filepath.Join(dir, "hardware_metrics_scaler.json"),
	}, artifactFiles(t, dir))
}

func TestLoadLatestTrainedModel(t *testing.T) {
	dir := t.TempDir()
	history := &memoryHistory{}
	samples := normalSamples(80, 5)

	trainer := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), history, logger.Nop())
	_, err := trainer.Train(context.Background(), samples)
	require.NoError(t, err)

	loaded := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), history, logger.Nop())
	require.NoError(t, loaded.Load(context.Background()))
	require.NotNil(t, loaded.Current())
	assert.NotNil(t, loaded.Current().Record)

	for i := range samples {
		want, _ := trainer.Predict(&samples[i])
		got, _ := loaded.Predict(&samples[i])
		assert.Equal(t, want, got)
	}
}

func TestLoadFallsBackToDefaultLocation(t *testing.T) {
	dir := t.TempDir()

	trainer := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), &memoryHistory{}, logger.Nop())
	_, err := trainer.Train(context.Background(), normalSamples(60, 2))
	require.NoError(t, err)

	loaded := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), &memoryHistory{}, logger.Nop())
	require.NoError(t, loaded.Load(context.Background()))
	require.NotNil(t, loaded.Current())
	assert.Nil(t, loaded.Current().Record)
}

func TestLoadIgnoresCorruptDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hardware_health_model.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hardware_metrics_scaler.json"), []byte("{}"), 0o600))

	d := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), &memoryHistory{}, logger.Nop())
	require.NoError(t, d.Load(context.Background()))
	assert.Nil(t, d.Current())
}

func TestRefreshInstallsModelTrainedElsewhere(t *testing.T) {
	dir := t.TempDir()
	history := &memoryHistory{}

	daemon := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), history, logger.Nop())
	require.NoError(t, daemon.Load(context.Background()))
	require.Nil(t, daemon.Current())

	changed, err := daemon.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	trainer := anomaly.NewDetector(anomaly.DefaultConfig(), anomaly.NewFileArtifactStore(dir), history, logger.Nop())
	record, err := trainer.Train(context.Background(), normalSamples(60, 12))
	require.NoError(t, err)

	changed, err = daemon.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, daemon.Current())
	assert.Equal(t, record.ID, daemon.Current().Record.ID)

	changed, err = daemon.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLoadUntrained(t *testing.T) {
	d, _, _ := newDetector(t)
	require.NoError(t, d.Load(context.Background()))
	assert.Nil(t, d.Current())
}

func TestPredictDuringTraining(t *testing.T) {
	d, _, _ := newDetector(t)
	samples := normalSamples(150, 9)
	_, err := d.Train(context.Background(), samples[:100])
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := d.Train(context.Background(), samples)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, ok := d.Predict(&samples[i%len(samples)])
			assert.True(t, ok)
		}
	}()
	wg.Wait()

	assert.Equal(t, 150, d.Current().Record.TrainingSamples)
}
