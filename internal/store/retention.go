package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Cleanup deletes samples older than retentionDays together with the issues
// that reference them. It returns the number of deleted samples.
func (r *Repository) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	errFactory := errors.New()

	if retentionDays < MinRetentionDays {
		return 0, errFactory.WithData(ErrInvalidRetention, retentionDays)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().AddDate(0, 0, -retentionDays)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Debug().Err(err).Msg("Failed to rollback cleanup")
		}
	}()

	// issues first, the cascade is not relied upon
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM issues WHERE sample_id IN (SELECT id FROM samples WHERE timestamp < ?)`,
		cutoff.UnixMilli()); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM samples WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Info().
		Int64("deleted", n).
		Time("cutoff", cutoff).
		Msg("Removed expired samples")

	return int(n), nil
}

// Statistics aggregates samples recorded at or after since.
func (r *Repository) Statistics(ctx context.Context, since time.Time) (*Statistics, error) {
	var (
		count                     int
		anomalies                 sql.NullInt64
		cpuAvg, cpuMin, cpuMax    sql.NullFloat64
		memAvg, memMin, memMax    sql.NullFloat64
		diskAvg, diskMin, diskMax sql.NullFloat64
		sentAvg, sentMin, sentMax sql.NullFloat64
		recvAvg, recvMin, recvMax sql.NullFloat64
	)

	err := r.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*), SUM(is_anomaly),
            AVG(cpu_percent), MIN(cpu_percent), MAX(cpu_percent),
            AVG(memory_percent), MIN(memory_percent), MAX(memory_percent),
            AVG(disk_usage_percent), MIN(disk_usage_percent), MAX(disk_usage_percent),
            AVG(network_bytes_sent), MIN(network_bytes_sent), MAX(network_bytes_sent),
            AVG(network_bytes_recv), MIN(network_bytes_recv), MAX(network_bytes_recv)
        FROM samples
        WHERE timestamp >= ?`, since.UnixMilli(),
	).Scan(
		&count, &anomalies,
		&cpuAvg, &cpuMin, &cpuMax,
		&memAvg, &memMin, &memMax,
		&diskAvg, &diskMin, &diskMax,
		&sentAvg, &sentMin, &sentMax,
		&recvAvg, &recvMin, &recvMax,
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}

	return &Statistics{
		Since:       since,
		Samples:     count,
		Anomalies:   int(anomalies.Int64),
		CPU:         Range{Avg: cpuAvg.Float64, Min: cpuMin.Float64, Max: cpuMax.Float64},
		Memory:      Range{Avg: memAvg.Float64, Min: memMin.Float64, Max: memMax.Float64},
		Disk:        Range{Avg: diskAvg.Float64, Min: diskMin.Float64, Max: diskMax.Float64},
		NetworkSent: Range{Avg: sentAvg.Float64, Min: sentMin.Float64, Max: sentMax.Float64},
		NetworkRecv: Range{Avg: recvAvg.Float64, Min: recvMin.Float64, Max: recvMax.Float64},
	}, nil
}

// IssueSummary counts issues created at or after since.
func (r *Repository) IssueSummary(ctx context.Context, since time.Time) (*IssueSummary, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT issue_type, COUNT(*), SUM(is_resolved)
        FROM issues
        WHERE timestamp >= ?
        GROUP BY issue_type`, since.UnixMilli())
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	summary := &IssueSummary{
		Since:  since,
		ByType: make(map[telemetry.IssueType]int),
	}
	for rows.Next() {
		var (
			issueType       string
			total, resolved int
		)
		if err := rows.Scan(&issueType, &total, &resolved); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		summary.ByType[telemetry.IssueType(issueType)] = total
		summary.Total += total
		summary.Resolved += resolved
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	summary.Unresolved = summary.Total - summary.Resolved

	return summary, nil
}
