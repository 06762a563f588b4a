// Package pipeline runs the collect, score, analyze and record sequence once
// per tick and keeps the anomaly model fresh.
package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/fan"
	"codeberg.org/mutker/hwsentry/internal/issues"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/store"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	"github.com/google/uuid"
)

// Tick results as exported to instrumentation.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"

	SignalModel = "model"
	SignalFan   = "fan"

	TrainingSuccess          = "success"
	TrainingInsufficientData = "insufficient_data"
	TrainingFailed           = "failed"
)

type Config struct {
	// TrainingSamples is how many recent samples a retraining uses.
	TrainingSamples int
	// TrainingTimeout bounds one retraining, 0 means unbounded.
	TrainingTimeout time.Duration
}

type Option func(*Pipeline)

func WithInstrumentation(i Instrumentation) Option {
	return func(p *Pipeline) {
		if i != nil {
			p.metrics = i
		}
	}
}

// Pipeline processes ticks sequentially.
type Pipeline struct {
	cfg      Config
	source   telemetry.Source
	store    Store
	models   Models
	recorder *issues.Recorder
	metrics  Instrumentation
	logger   logger.Logger

	tickMu sync.Mutex
}

func New(cfg Config, source telemetry.Source, st Store, models Models, log logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		source:   source,
		store:    st,
		models:   models,
		recorder: issues.NewRecorder(st, log),
		metrics:  nopInstrumentation{},
		logger:   log,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics.SetModelLoaded(models.Current() != nil)
	return p
}

// Tick collects one sample, scores it, derives issues when it is anomalous and
// records everything. A total acquisition failure skips the tick with
// ErrTickSkipped and nothing is recorded.
func (p *Pipeline) Tick(ctx context.Context) (*TickResult, error) {
	errFactory := errors.New()

	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	start := time.Now()
	res := &TickResult{ID: uuid.NewString()}

	s, err := p.source.Sample(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("tick", res.ID).Msg("Skipping tick, no metrics acquired")
		p.metrics.ObserveTick(ResultSkipped, time.Since(start))
		return nil, errFactory.Wrap(ErrTickSkipped, err)
	}
	res.Sample = s

	res.Fan = p.score(s)

	if s.IsAnomaly {
		res.Candidates = issues.Analyze(s, res.Fan)
	}

	if _, err := p.store.SaveSample(ctx, s); err != nil {
		p.metrics.ObserveTick(ResultFailed, time.Since(start))
		return nil, errFactory.Wrap(ErrPersistFailed, err)
	}

	res.Issues, err = p.recorder.Record(ctx, s, res.Candidates)
	for _, r := range res.Issues {
		p.metrics.RecordIssue(r.Issue.Type.String(), string(r.Action))
	}
	if err != nil {
		p.metrics.ObserveTick(ResultFailed, time.Since(start))
		return res, err
	}

	p.metrics.ObserveTick(ResultOK, time.Since(start))
	p.logTick(res)

	return res, nil
}

// score applies the model loaded at the start of the tick and the fan curve.
// A fan anomaly marks the sample anomalous whatever the model says.
func (p *Pipeline) score(s *telemetry.MetricSample) fan.Assessment {
	if m := p.models.Current(); m != nil {
		pred := m.Predict(s)
		s.IsAnomaly = pred.IsAnomaly
		s.AnomalyScore = sql.NullFloat64{Float64: pred.Score, Valid: true}
		p.metrics.SetAnomalyScore(pred.Score)
		if pred.IsAnomaly {
			p.metrics.RecordAnomaly(SignalModel)
		}
	}

	if s.CPUTemp.Valid {
		p.metrics.SetCPUTemperature(s.CPUTemp.Float64)
	}

	a := fan.Evaluate(s.CPUTemp, s.MeasuredFanSpeed())
	s.FanExpectedSpeed = a.ExpectedRPM()
	s.FanAnomaly = a.Anomaly
	if a.Anomaly {
		s.IsAnomaly = true
		p.metrics.RecordAnomaly(SignalFan)
	}

	return a
}

func (p *Pipeline) logTick(res *TickResult) {
	s := res.Sample
	if !s.IsAnomaly {
		p.logger.Debug().
			Str("tick", res.ID).
			Int64("sample_id", s.ID).
			Bool("scored", s.Scored()).
			Msg("Sample recorded")
		return
	}

	ev := p.logger.Warn().
		Str("tick", res.ID).
		Int64("sample_id", s.ID).
		Bool("fan_anomaly", s.FanAnomaly).
		Int("issues", len(res.Issues))
	if s.Scored() {
		ev = ev.Float64("anomaly_score", s.AnomalyScore.Float64)
	}
	ev.Msg("Anomalous sample recorded")
}

// Summary reports the latest sample, the open issues and the model status.
func (p *Pipeline) Summary(ctx context.Context) (*Summary, error) {
	errFactory := errors.New()

	latest, err := p.store.LatestSample(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrSummaryFailed, err)
	}

	count, err := p.store.CountSamples(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrSummaryFailed, err)
	}

	open, err := p.store.ListIssues(ctx, store.IssueFilter{
		Resolved: sql.NullBool{Bool: false, Valid: true},
	})
	if err != nil {
		return nil, errFactory.Wrap(ErrSummaryFailed, err)
	}

	sum := &Summary{
		Latest:     latest,
		Samples:    count,
		Unresolved: open,
	}
	if m := p.models.Current(); m != nil {
		sum.ModelTrained = true
		sum.LastTraining = m.Record
	}

	return sum, nil
}
