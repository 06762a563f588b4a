package pipeline

import (
	"context"
	"time"

	"codeberg.org/mutker/hwsentry/internal/anomaly"
	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Run ticks immediately and then every interval until ctx is done. Failed
// ticks are logged and do not stop the loop.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	errFactory := errors.New()

	if interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", interval).Msg("Collecting metrics")

	for {
		p.refreshModel(ctx)

		if _, err := p.Tick(ctx); err != nil && !errors.HasCode(err, ErrTickSkipped) {
			p.logger.Error().Err(err).Msg("Tick failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// refreshModel picks up models trained by another process.
func (p *Pipeline) refreshModel(ctx context.Context) {
	changed, err := p.models.Refresh(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to check for a newer model")
		return
	}
	if changed {
		p.metrics.SetModelLoaded(true)
	}
}

// Retrain fits a new model on the most recent samples. Training continues to
// run alongside ticks; the model is swapped when it is done.
func (p *Pipeline) Retrain(ctx context.Context) (*telemetry.TrainingRecord, error) {
	errFactory := errors.New()

	if p.cfg.TrainingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TrainingTimeout)
		defer cancel()
	}

	samples, err := p.store.QueryRecent(ctx, p.cfg.TrainingSamples)
	if err != nil {
		p.metrics.RecordTraining(TrainingFailed)
		return nil, errFactory.Wrap(ErrRetrainFailed, err)
	}

	record, err := p.models.Train(ctx, samples)
	switch {
	case errors.HasCode(err, anomaly.ErrInsufficientData):
		p.metrics.RecordTraining(TrainingInsufficientData)
		return nil, err
	case err != nil:
		p.metrics.RecordTraining(TrainingFailed)
		return nil, err
	}

	p.metrics.RecordTraining(TrainingSuccess)
	p.metrics.SetModelLoaded(true)

	return record, nil
}

// RetrainEvery retrains every interval until ctx is done. Training failures
// are logged and retried at the next interval.
func (p *Pipeline) RetrainEvery(ctx context.Context, interval time.Duration) error {
	errFactory := errors.New()

	if interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.retrainAndLog(ctx)
		}
	}
}

func (p *Pipeline) retrainAndLog(ctx context.Context) {
	_, err := p.Retrain(ctx)
	switch {
	case err == nil:
	case errors.HasCode(err, anomaly.ErrInsufficientData):
		p.logger.Info().Err(err).Msg("Not enough samples to train yet")
	case ctx.Err() != nil:
	default:
		p.logger.Error().Err(err).Msg("Retraining failed")
	}
}
