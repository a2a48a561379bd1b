package history

import (
	"database/sql"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp   INTEGER NOT NULL,
	       mode        TEXT NOT NULL,
	       indicator   TEXT NOT NULL CHECK (indicator IN ('normal', 'warning', 'danger')),
	       cores       INTEGER NOT NULL CHECK (typeof(cores) = 'integer'),
	       min_mhz     INTEGER NOT NULL,
	       max_mhz     INTEGER NOT NULL,
	       avg_mhz     REAL NOT NULL,
	       readings    TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS samples_timestamp ON samples (timestamp);
	   CREATE TABLE IF NOT EXISTS alerts (
	       id            INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp     INTEGER NOT NULL,
	       severity      TEXT NOT NULL,
	       cores         TEXT NOT NULL,
	       threshold_ghz REAL NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS action_runs (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       action_id   TEXT NOT NULL,
	       name        TEXT NOT NULL,
	       phase       TEXT NOT NULL,
	       failed_at   TEXT,
	       error       TEXT,
	       started     INTEGER NOT NULL,
	       finished    INTEGER NOT NULL
	   );`

	insertSampleSQL = `
    INSERT INTO samples (
        timestamp, mode, indicator, cores, min_mhz, max_mhz, avg_mhz, readings
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertAlertSQL = `
    INSERT INTO alerts (timestamp, severity, cores, threshold_ghz) VALUES (?, ?, ?, ?)`

	insertActionRunSQL = `
    INSERT INTO action_runs (
        action_id, name, phase, failed_at, error, started, finished
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectRecentSamplesSQL = `
    SELECT timestamp, mode, indicator, readings
    FROM samples
    ORDER BY id DESC
    LIMIT ?`
)

var historyTables = []string{"samples", "alerts", "action_runs", "schema_versions"}

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
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
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
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err).WithData("get_version")
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
		return false, errors.New().Wrap(ErrSchemaValidationFailed, err).WithData(tableName)
	}
	return exists, nil
}
