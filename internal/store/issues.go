package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// FindUnresolvedIssue returns the open issue of type t, or nil.
func (r *Repository) FindUnresolvedIssue(ctx context.Context, t telemetry.IssueType) (*telemetry.HardwareIssue, error) {
	row := r.db.QueryRowContext(ctx,
		selectIssueSQL+` WHERE issue_type = ? AND is_resolved = 0 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		string(t))

	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return issue, nil
}

// GetIssue returns the issue with id or ErrIssueNotFound.
func (r *Repository) GetIssue(ctx context.Context, id int64) (*telemetry.HardwareIssue, error) {
	issue, err := scanIssue(r.db.QueryRowContext(ctx, selectIssueSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New().WithData(ErrIssueNotFound, id)
	}
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageAccess, err)
	}
	return issue, nil
}

// UpsertIssue inserts issue when it has no ID. Otherwise it refreshes the
// timestamp and originating sample of the stored issue and leaves its
// resolution state alone.
func (r *Repository) UpsertIssue(ctx context.Context, issue *telemetry.HardwareIssue) error {
	errFactory := errors.New()

	if issue == nil || issue.SampleID == 0 || !issue.Type.IsValid() {
		return errFactory.WithData(ErrInvalidRecord, issue)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if issue.ID != 0 {
		res, err := r.db.ExecContext(ctx,
			`UPDATE issues SET timestamp = ?, sample_id = ? WHERE id = ?`,
			issue.Timestamp.UnixMilli(), issue.SampleID, issue.ID)
		if err != nil {
			return errFactory.Wrap(ErrStorageAccess, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errFactory.WithData(ErrIssueNotFound, issue.ID)
		}
		return nil
	}

	res, err := r.db.ExecContext(ctx, `
        INSERT INTO issues (
            sample_id, timestamp, issue_type, description, recommendation,
            is_resolved, resolved_at, fan_expected_speed
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.SampleID,
		issue.Timestamp.UnixMilli(),
		string(issue.Type),
		issue.Description,
		issue.Recommendation,
		boolToInt(issue.IsResolved),
		nullTimeToMillis(issue.ResolvedAt),
		issue.FanExpectedSpeed,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	issue.ID = id

	return nil
}

// ResolveIssue marks the issue resolved. Resolving an already resolved issue
// is a no-op and reports false.
func (r *Repository) ResolveIssue(ctx context.Context, id int64) (bool, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	issue, err := scanIssue(tx.QueryRowContext(ctx, selectIssueSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return false, errFactory.WithData(ErrIssueNotFound, id)
	}
	if err != nil {
		return false, errFactory.Wrap(ErrStorageAccess, err)
	}

	if !issue.Resolve(r.now()) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE issues SET is_resolved = 1, resolved_at = ? WHERE id = ?`,
		nullTimeToMillis(issue.ResolvedAt), id); err != nil {
		return false, errFactory.Wrap(ErrStorageAccess, err)
	}
	if err := tx.Commit(); err != nil {
		return false, errFactory.Wrap(ErrTransactionFailed, err)
	}

	return true, nil
}

// BulkResolve resolves every open issue in ids and returns how many changed.
// Unknown ids are ignored.
func (r *Repository) BulkResolve(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	args := make([]any, 0, len(ids)+1)
	args = append(args, r.now().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	res, err := r.db.ExecContext(ctx,
		`UPDATE issues SET is_resolved = 1, resolved_at = ? WHERE is_resolved = 0 AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.New().Wrap(ErrStorageAccess, err)
	}
	return int(n), nil
}

// ListIssues returns issues matching f, most recent first.
func (r *Repository) ListIssues(ctx context.Context, f IssueFilter) ([]telemetry.HardwareIssue, error) {
	errFactory := errors.New()

	var (
		where []string
		args  []any
	)
	if f.Resolved.Valid {
		where = append(where, "is_resolved = ?")
		args = append(args, boolToInt(f.Resolved.Bool))
	}
	if f.Type != "" {
		where = append(where, "issue_type = ?")
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := selectIssueSQL
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var issues []telemetry.HardwareIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return issues, nil
}

func scanIssue(row scanner) (*telemetry.HardwareIssue, error) {
	var (
		issue      telemetry.HardwareIssue
		ts         int64
		issueType  string
		resolved   int
		resolvedAt sql.NullInt64
	)
	err := row.Scan(
		&issue.ID,
		&issue.SampleID,
		&ts,
		&issueType,
		&issue.Description,
		&issue.Recommendation,
		&resolved,
		&resolvedAt,
		&issue.FanExpectedSpeed,
	)
	if err != nil {
		return nil, err
	}

	issue.Timestamp = time.UnixMilli(ts)
	issue.Type = telemetry.IssueType(issueType)
	issue.IsResolved = resolved == 1
	if resolvedAt.Valid {
		issue.ResolvedAt = sql.NullTime{Time: time.UnixMilli(resolvedAt.Int64), Valid: true}
	}

	return &issue, nil
}

func nullTimeToMillis(t sql.NullTime) sql.NullInt64 {
	if !t.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Time.UnixMilli(), Valid: true}
}
