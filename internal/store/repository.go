package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

// Repository is the sqlite record store for samples, issues and training
// records. Writes are serialized.
type Repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
	mu     sync.Mutex
	now    func() time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func NewRepository(cfg Config, log logger.Logger) (*Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_foreign_keys=1&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// one connection keeps pragmas and write ordering consistent
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Record store initialized")

	return &Repository{
		db:     db,
		logger: log,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

func (r *Repository) Close() error {
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Record store closed gracefully")

	return nil
}

// SaveSample persists s and sets its ID.
func (r *Repository) SaveSample(ctx context.Context, s *telemetry.MetricSample) (int64, error) {
	errFactory := errors.New()

	if s == nil {
		return 0, errFactory.New(ErrInvalidRecord)
	}
	if s.ID != 0 {
		return 0, errFactory.WithMessage(ErrInvalidRecord, "sample already persisted")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, insertSampleSQL,
		s.Timestamp.UnixMilli(),
		s.CPUPercent,
		s.MemoryPercent,
		s.SwapPercent,
		s.DiskUsagePercent,
		s.DiskReadCount,
		s.DiskWriteCount,
		s.NetworkBytesSent,
		s.NetworkBytesRecv,
		s.CPUTemp,
		s.BatteryPercent,
		s.FanSpeed,
		s.GPUTemp,
		s.GPUFanPercent,
		boolToInt(s.FanSimulated),
		s.FanExpectedSpeed,
		boolToInt(s.FanAnomaly),
		boolToInt(s.IsAnomaly),
		s.AnomalyScore,
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}
	s.ID = id

	return id, nil
}

// QueryRecent returns up to n samples, most recent first.
func (r *Repository) QueryRecent(ctx context.Context, n int) ([]telemetry.MetricSample, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.querySamples(ctx, selectSampleSQL+` ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
}

// ListAnomalies returns up to limit anomalous samples recorded since, most
// recent first. A limit <= 0 returns all of them.
func (r *Repository) ListAnomalies(ctx context.Context, since time.Time, limit int) ([]telemetry.MetricSample, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.querySamples(ctx,
		selectSampleSQL+` WHERE is_anomaly = 1 AND timestamp >= ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		since.UnixMilli(), limit)
}

// LatestSample returns the most recent sample or nil when none was recorded.
func (r *Repository) LatestSample(ctx context.Context) (*telemetry.MetricSample, error) {
	samples, err := r.QueryRecent(ctx, 1)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return &samples[0], nil
}

func (r *Repository) CountSamples(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return n, nil
}

func (r *Repository) querySamples(ctx context.Context, query string, args ...any) ([]telemetry.MetricSample, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var samples []telemetry.MetricSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		samples = append(samples, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return samples, nil
}

func scanSample(row scanner) (*telemetry.MetricSample, error) {
	var (
		s                                   telemetry.MetricSample
		ts                                  int64
		fanSimulated, fanAnomaly, isAnomaly int
	)
	err := row.Scan(
		&s.ID,
		&ts,
		&s.CPUPercent,
		&s.MemoryPercent,
		&s.SwapPercent,
		&s.DiskUsagePercent,
		&s.DiskReadCount,
		&s.DiskWriteCount,
		&s.NetworkBytesSent,
		&s.NetworkBytesRecv,
		&s.CPUTemp,
		&s.BatteryPercent,
		&s.FanSpeed,
		&s.GPUTemp,
		&s.GPUFanPercent,
		&fanSimulated,
		&s.FanExpectedSpeed,
		&fanAnomaly,
		&isAnomaly,
		&s.AnomalyScore,
	)
	if err != nil {
		return nil, err
	}

	s.Timestamp = time.UnixMilli(ts)
	s.FanSimulated = fanSimulated == 1
	s.FanAnomaly = fanAnomaly == 1
	s.IsAnomaly = isAnomaly == 1

	return &s, nil
}
