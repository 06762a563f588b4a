package anomaly

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

const (
	defaultTrees      = 100
	defaultMaxSamples = 256
	defaultSeed       = 42
	minTrainSamples   = 50

	defaultContamination  = 0.05
	smallSetContamination = 0.10
	smallSetThreshold     = 100

	validationFraction = 0.2
	minHoldout         = 10
)

type Config struct {
	Trees      int
	MaxSamples int
	Seed       int64
	MinSamples int
}

func DefaultConfig() Config {
	return Config{
		Trees:      defaultTrees,
		MaxSamples: defaultMaxSamples,
		Seed:       defaultSeed,
		MinSamples: minTrainSamples,
	}
}

// Contamination is the expected anomaly fraction for a training set of n samples.
func Contamination(n int) float64 {
	if n < smallSetThreshold {
		return smallSetContamination
	}
	return defaultContamination
}

// Detector owns the current model. Readers always see either the previous or a
// fully trained new model; trainings are serialized.
type Detector struct {
	cfg       Config
	artifacts ArtifactStore
	history   TrainingHistory
	logger    logger.Logger
	now       func() time.Time

	current atomic.Pointer[Model]
	trainMu sync.Mutex
}

func NewDetector(cfg Config, artifacts ArtifactStore, history TrainingHistory, log logger.Logger) *Detector {
	return &Detector{
		cfg:       cfg,
		artifacts: artifacts,
		history:   history,
		logger:    log,
		now:       time.Now,
	}
}

// Current returns the loaded model or nil when untrained.
func (d *Detector) Current() *Model {
	return d.current.Load()
}

// Predict scores s with the current model. ok is false when no model is loaded.
func (d *Detector) Predict(s *telemetry.MetricSample) (Prediction, bool) {
	m := d.Current()
	if m == nil {
		return Prediction{}, false
	}
	return m.Predict(s), true
}

// Load installs the most recently trained model, falling back to the default
// artifact location. With neither available the detector stays untrained and
// Load returns nil.
func (d *Detector) Load(ctx context.Context) error {
	errFactory := errors.New()

	record, err := d.history.LatestTrainingRecord(ctx)
	if err != nil {
		return errFactory.Wrap(ErrHistoryUnavailable, err)
	}

	if record != nil {
		forest, scaler, err := d.artifacts.Load(Artifacts{ModelRef: record.ModelRef, ScalerRef: record.ScalerRef})
		var m *Model
		if err == nil {
			m, err = NewModel(forest, scaler, record)
		}
		if err == nil {
			d.current.Store(m)
			d.logger.Info().
				Time("trained_at", record.TrainedAt).
				Int("samples", record.TrainingSamples).
				Msg("Loaded latest trained model")
			return nil
		}
		d.logger.Warn().Err(err).Str("model", record.ModelRef).Msg("Latest model unusable, trying default location")
	}

	forest, scaler, err := d.artifacts.LoadDefault()
	if errors.HasCode(err, ErrArtifactNotFound) {
		d.logger.Info().Msg("No trained model available, anomaly scoring disabled")
		return nil
	}
	if errors.HasCode(err, ErrArtifactCorrupt) {
		d.logger.Warn().Err(err).Msg("Default model is unreadable, anomaly scoring disabled")
		return nil
	}
	if err != nil {
		return err
	}

	m, err := NewModel(forest, scaler, nil)
	if errors.HasCode(err, ErrSchemaMismatch) {
		d.logger.Warn().Err(err).Msg("Default model uses another feature schema, anomaly scoring disabled")
		return nil
	}
	if err != nil {
		return err
	}
	d.current.Store(m)
	d.logger.Info().Msg("Loaded model from default location")

	return nil
}

// Refresh installs the latest recorded model when it differs from the current
// one, such as a model trained by another process. It reports whether the
// model changed. A training in progress makes Refresh a no-op.
func (d *Detector) Refresh(ctx context.Context) (bool, error) {
	errFactory := errors.New()

	if !d.trainMu.TryLock() {
		return false, nil
	}
	defer d.trainMu.Unlock()

	record, err := d.history.LatestTrainingRecord(ctx)
	if err != nil {
		return false, errFactory.Wrap(ErrHistoryUnavailable, err)
	}
	if record == nil {
		return false, nil
	}
	if cur := d.Current(); cur != nil && cur.Record != nil && cur.Record.ID == record.ID {
		return false, nil
	}

	forest, scaler, err := d.artifacts.Load(Artifacts{ModelRef: record.ModelRef, ScalerRef: record.ScalerRef})
	if err != nil {
		return false, err
	}
	m, err := NewModel(forest, scaler, record)
	if err != nil {
		return false, err
	}
	d.current.Store(m)

	d.logger.Info().
		Time("trained_at", record.TrainedAt).
		Int("samples", record.TrainingSamples).
		Msg("Installed newly recorded model")

	return true, nil
}

// Train fits a new model on samples and swaps it in. Nothing is persisted or
// swapped when training fails or ctx is cancelled before the swap.
func (d *Detector) Train(ctx context.Context, samples []telemetry.MetricSample) (*telemetry.TrainingRecord, error) {
	errFactory := errors.New()

	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	n := len(samples)
	if n < d.cfg.MinSamples {
		return nil, errFactory.WithData(ErrInsufficientData, struct {
			Available int
			Required  int
		}{n, d.cfg.MinSamples})
	}

	contamination := Contamination(n)
	rows := FeatureMatrix(samples)
	scaler := FitScaler(rows)
	scaled := make([][]float64, n)
	for i, row := range rows {
		scaled[i] = scaler.Transform(row)
	}

	forestCfg := ForestConfig{
		Trees:         d.cfg.Trees,
		MaxSamples:    d.cfg.MaxSamples,
		Contamination: contamination,
		Seed:          d.cfg.Seed,
	}

	score, err := d.validate(ctx, scaled, forestCfg)
	if err != nil {
		return nil, err
	}

	forest, err := FitForest(ctx, scaled, forestCfg)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(ErrTrainingAborted, err)
	}

	refs, err := d.artifacts.Save(forest, scaler)
	if err != nil {
		return nil, err
	}

	record := &telemetry.TrainingRecord{
		TrainedAt:        d.now(),
		ModelRef:         refs.ModelRef,
		ScalerRef:        refs.ScalerRef,
		TrainingSamples:  n,
		Contamination:    contamination,
		FeatureSchema:    FeatureSchema,
		PerformanceScore: score,
		Notes:            fmt.Sprintf("Trained with %d samples", n),
	}

	m, err := NewModel(forest, scaler, record)
	if err != nil {
		d.discard(refs)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		d.discard(refs)
		return nil, errFactory.Wrap(ErrTrainingAborted, err)
	}

	if err := d.history.SaveTrainingRecord(ctx, record); err != nil {
		d.discard(refs)
		return nil, errFactory.Wrap(ErrTrainingFailed, err)
	}

	if err := d.artifacts.Promote(refs); err != nil {
		d.logger.Warn().Err(err).Str("model", refs.ModelRef).Msg("Failed to refresh default model location")
	}

	d.current.Store(m)

	ev := d.logger.Info().
		Int("samples", n).
		Float64("contamination", contamination).
		Str("model", refs.ModelRef)
	if score.Valid {
		ev = ev.Float64("validation_score", score.Float64)
	}
	ev.Msg("Model trained")

	return record, nil
}

// discard removes artifacts of a training that was never recorded.
func (d *Detector) discard(refs Artifacts) {
	if err := d.artifacts.Discard(refs); err != nil {
		d.logger.Warn().Err(err).Str("model", refs.ModelRef).Msg("Failed to remove unrecorded model")
	}
}

// validate fits a throwaway forest on a seeded split and returns the fraction
// of held-out rows it scores as normal.
func (d *Detector) validate(ctx context.Context, rows [][]float64, cfg ForestConfig) (sql.NullFloat64, error) {
	holdout := int(float64(len(rows)) * validationFraction)
	if holdout < minHoldout {
		return sql.NullFloat64{}, nil
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducibility, not security
	perm := rng.Perm(len(rows))

	train := make([][]float64, 0, len(rows)-holdout)
	for _, i := range perm[holdout:] {
		train = append(train, rows[i])
	}

	forest, err := FitForest(ctx, train, cfg)
	if err != nil {
		return sql.NullFloat64{}, err
	}

	normal := 0
	for _, i := range perm[:holdout] {
		if forest.Decision(rows[i]) >= 0 {
			normal++
		}
	}

	return sql.NullFloat64{Float64: float64(normal) / float64(holdout), Valid: true}, nil
}
