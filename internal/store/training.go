package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// SaveTrainingRecord persists record and sets its ID.
func (r *Repository) SaveTrainingRecord(ctx context.Context, record *telemetry.TrainingRecord) error {
	errFactory := errors.New()

	if record == nil || record.TrainingSamples <= 0 {
		return errFactory.WithData(ErrInvalidRecord, record)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `
        INSERT INTO training_records (
            trained_at, model_ref, scaler_ref, training_samples,
            contamination, feature_schema, performance_score, notes
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TrainedAt.UnixMilli(),
		record.ModelRef,
		record.ScalerRef,
		record.TrainingSamples,
		record.Contamination,
		record.FeatureSchema,
		record.PerformanceScore,
		record.Notes,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	record.ID = id

	return nil
}

// LatestTrainingRecord returns the most recent record, or nil when no model
// was ever trained.
func (r *Repository) LatestTrainingRecord(ctx context.Context) (*telemetry.TrainingRecord, error) {
	record, err := scanTrainingRecord(r.db.QueryRowContext(ctx,
		`SELECT `+trainingColumns+` FROM training_records ORDER BY trained_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return record, nil
}

// ListTrainingRecords returns up to limit records, newest first. A limit <= 0
// returns all of them.
func (r *Repository) ListTrainingRecords(ctx context.Context, limit int) ([]telemetry.TrainingRecord, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trainingColumns+` FROM training_records ORDER BY trained_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var records []telemetry.TrainingRecord
	for rows.Next() {
		record, err := scanTrainingRecord(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return records, nil
}

func scanTrainingRecord(row scanner) (*telemetry.TrainingRecord, error) {
	var (
		record    telemetry.TrainingRecord
		trainedAt int64
	)
	if err := row.Scan(
		&record.ID,
		&trainedAt,
		&record.ModelRef,
		&record.ScalerRef,
		&record.TrainingSamples,
		&record.Contamination,
		&record.FeatureSchema,
		&record.PerformanceScore,
		&record.Notes,
	); err != nil {
		return nil, err
	}
	record.TrainedAt = time.UnixMilli(trainedAt)
	return &record, nil
}
