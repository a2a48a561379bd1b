package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// row is one buffered insert.
type row struct {
	query string
	args  []any
}

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []row
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
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

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
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

	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	}

	if err := ValidateAndUpdateSchema(db, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("History repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]row, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.FlushInterval > 0 {
		repo.flushTicker = time.NewTicker(cfg.FlushInterval)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) RecordSample(s Sample) error {
	readings, err := json.Marshal(s.Frequencies)
	if err != nil {
		return errors.New().Wrap(ErrQueryFailed, err)
	}

	lo, hi, avg := s.Stats()
	return r.add(row{
		query: insertSampleSQL,
		args: []any{
			s.Timestamp.UnixMilli(),
			s.Mode,
			s.Indicator,
			len(s.Frequencies),
			int64(lo),
			int64(hi),
			avg,
			string(readings),
		},
	})
}

func (r *repository) RecordAlert(a Alert) error {
	cores, err := json.Marshal(a.Cores)
	if err != nil {
		return errors.New().Wrap(ErrQueryFailed, err)
	}

	return r.add(row{
		query: insertAlertSQL,
		args:  []any{a.Timestamp.UnixMilli(), a.Severity, string(cores), a.ThresholdGHz},
	})
}

func (r *repository) RecordActionRun(run ActionRun) error {
	return r.add(row{
		query: insertActionRunSQL,
		args: []any{
			run.ActionID,
			run.Name,
			run.Phase,
			nullString(run.FailedAt),
			nullString(run.Error),
			run.Started.UnixMilli(),
			run.Finished.UnixMilli(),
		},
	})
}

// RecentSamples returns up to limit samples, newest first. Buffered rows are
// flushed first.
func (r *repository) RecentSamples(ctx context.Context, limit int) ([]Sample, error) {
	errFactory := errors.New()

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, selectRecentSamplesSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	samples := make([]Sample, 0, limit)
	for rows.Next() {
		var (
			ts       int64
			s        Sample
			readings string
		)
		if err := rows.Scan(&ts, &s.Mode, &s.Indicator, &readings); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		if err := json.Unmarshal([]byte(readings), &s.Frequencies); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err).WithData(readings)
		}
		s.Timestamp = time.UnixMilli(ts)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return samples, nil
}

func (r *repository) add(entry row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, entry)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		closeErr = r.close()
	})
	return closeErr
}

func (r *repository) close() error {
	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	// Wait for the flusher to finish its final flush
	<-r.flushDoneChan

	r.mu.Lock()
	if err := r.flush(); err != nil {
		r.logger.Warn().Err(err).Msg("Dropping unflushed history")
	}
	r.mu.Unlock()

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

	r.logger.Info().Msg("History repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic history flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. Caller must hold mu.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmts := make(map[string]*sql.Stmt)
	defer func() {
		for _, stmt := range stmts {
			stmt.Close()
		}
	}()

	rollback := func(cause error) error {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, cause)
	}

	for _, entry := range r.buffer {
		stmt, ok := stmts[entry.query]
		if !ok {
			stmt, err = tx.Prepare(entry.query)
			if err != nil {
				r.logger.Error().Err(err).Msg("Failed to prepare statement")
				return rollback(err)
			}
			stmts[entry.query] = stmt
		}

		if _, err := stmt.Exec(entry.args...); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			return rollback(err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed history to database")
	r.buffer = r.buffer[:0]

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
