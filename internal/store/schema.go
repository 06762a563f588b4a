package store

import (
	"database/sql"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp           INTEGER NOT NULL,
	       cpu_percent         REAL NOT NULL,
	       memory_percent      REAL NOT NULL,
	       swap_percent        REAL NOT NULL,
	       disk_usage_percent  REAL NOT NULL,
	       disk_read_count     INTEGER NOT NULL CHECK (disk_read_count >= 0),
	       disk_write_count    INTEGER NOT NULL CHECK (disk_write_count >= 0),
	       network_bytes_sent  INTEGER NOT NULL CHECK (network_bytes_sent >= 0),
	       network_bytes_recv  INTEGER NOT NULL CHECK (network_bytes_recv >= 0),
	       cpu_temp            REAL,
	       battery_percent     REAL,
	       fan_speed           INTEGER,
	       gpu_temp            REAL,
	       gpu_fan_percent     INTEGER,
	       fan_simulated       INTEGER NOT NULL CHECK (fan_simulated IN (0, 1)),
	       fan_expected_speed  INTEGER NOT NULL,
	       fan_anomaly         INTEGER NOT NULL CHECK (fan_anomaly IN (0, 1)),
	       is_anomaly          INTEGER NOT NULL CHECK (is_anomaly IN (0, 1)),
	       anomaly_score       REAL
	   );
	   CREATE INDEX IF NOT EXISTS idx_samples_timestamp ON samples (timestamp);
	   CREATE TABLE IF NOT EXISTS issues (
	       id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	       sample_id           INTEGER NOT NULL REFERENCES samples (id) ON DELETE CASCADE,
	       timestamp           INTEGER NOT NULL,
	       issue_type          TEXT NOT NULL,
	       description         TEXT NOT NULL,
	       recommendation      TEXT NOT NULL,
	       is_resolved         INTEGER NOT NULL DEFAULT 0 CHECK (is_resolved IN (0, 1)),
	       resolved_at         INTEGER,
	       fan_expected_speed  INTEGER
	   );
	   CREATE INDEX IF NOT EXISTS idx_issues_open ON issues (issue_type, is_resolved);
	   CREATE INDEX IF NOT EXISTS idx_issues_sample ON issues (sample_id);
	   CREATE TABLE IF NOT EXISTS training_records (
	       id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	       trained_at          INTEGER NOT NULL,
	       model_ref           TEXT NOT NULL,
	       scaler_ref          TEXT NOT NULL,
	       training_samples    INTEGER NOT NULL CHECK (training_samples > 0),
	       contamination       REAL NOT NULL,
	       feature_schema      INTEGER NOT NULL,
	       performance_score   REAL,
	       notes               TEXT NOT NULL DEFAULT ''
	   );`

	sampleColumns = `
	    timestamp,
	    cpu_percent, memory_percent, swap_percent, disk_usage_percent,
	    disk_read_count, disk_write_count,
	    network_bytes_sent, network_bytes_recv,
	    cpu_temp, battery_percent, fan_speed, gpu_temp, gpu_fan_percent,
	    fan_simulated, fan_expected_speed, fan_anomaly,
	    is_anomaly, anomaly_score`

	insertSampleSQL = `
    INSERT INTO samples (` + sampleColumns + `
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSampleSQL = `SELECT id, ` + sampleColumns + ` FROM samples`

	issueColumns = `
	    id, sample_id, timestamp, issue_type, description, recommendation,
	    is_resolved, resolved_at, fan_expected_speed`

	selectIssueSQL = `SELECT ` + issueColumns + ` FROM issues`

	trainingColumns = `
	    id, trained_at, model_ref, scaler_ref, training_samples,
	    contamination, feature_schema, performance_score, notes`
)

// managedTables are dropped when an incompatible schema is replaced.
// Children come before their parents.
var managedTables = []string{"issues", "samples", "training_records", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for an empty database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
