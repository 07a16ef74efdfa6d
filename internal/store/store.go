package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/sessprobe/internal/common"
	"github.com/loykin/sessprobe/internal/retry"
)

// ErrDisabled is returned by Open when the store is switched off in configuration
var ErrDisabled = errors.New("result store disabled")

// Store persists suite runs and their scenario outcomes in SQLite or PostgreSQL.
type Store struct {
	DB      *sql.DB
	dialect Dialect
	tn      TableNames
	logger  *common.Logger
	retry   *retry.Config
}

// Open connects to the configured database and ensures the schema exists
func Open(cfg Config) (*Store, error) {
	if cfg.Disabled {
		return nil, ErrDisabled
	}
	driver, err := cfg.driver()
	if err != nil {
		return nil, err
	}
	tn, err := cfg.TableNames.withDefaults()
	if err != nil {
		return nil, err
	}

	var dsn string
	if driver == DriverPostgresql {
		if dsn, err = cfg.Postgres.ConnString(); err != nil {
			return nil, err
		}
	} else {
		dsn = cfg.SQLite.DSN()
	}

	d := dialectFor(driver)
	logger := common.GetLogger().WithComponent("store").WithStore(d.GetDriverName())
	db, err := d.Connect(dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db, dialect: d, tn: tn, logger: logger, retry: retry.DefaultRetryConfig()}
	if err := s.Ensure(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("result store opened", "suite_runs", tn.SuiteRuns, "scenario_results", tn.ScenarioResults)
	return s, nil
}

// Ensure creates the tables when they do not exist yet
func (s *Store) Ensure(ctx context.Context) error {
	for _, stmt := range s.dialect.GetEnsureStatements(s.tn.SuiteRuns, s.tn.ScenarioResults) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.GetPlaceholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// RecordSuite writes a suite run and all of its scenario outcomes in one transaction.
// Transient errors such as a locked SQLite file are retried.
func (s *Store) RecordSuite(ctx context.Context, rec SuiteRecord) error {
	if rec.ID == "" {
		return errors.New("suite record has no id")
	}
	err := retry.WithRetry(ctx, s.retry, func() error {
		return s.recordSuite(ctx, rec)
	})
	if err != nil {
		s.logger.Error("failed to record suite", "run_id", rec.ID, "error", err)
		return err
	}
	s.logger.Debug("suite recorded", "run_id", rec.ID, "scenarios", len(rec.Scenarios))
	return nil
}

func (s *Store) recordSuite(ctx context.Context, rec SuiteRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	d := s.dialect
	q := fmt.Sprintf("INSERT INTO %s (id, backend, started_at, finished_at, exit_code, passed, failed, skipped, error) VALUES (%s)",
		s.tn.SuiteRuns, s.placeholders(9))
	if _, err := tx.ExecContext(ctx, q,
		rec.ID, rec.Backend,
		d.ConvertTimeToStorage(rec.StartedAt), d.ConvertTimeToStorage(rec.FinishedAt),
		rec.ExitCode, rec.Passed, rec.Failed, rec.Skipped, nullString(rec.Error),
	); err != nil {
		return fmt.Errorf("insert suite run: %w", err)
	}

	q = fmt.Sprintf("INSERT INTO %s (run_id, scenario_run_id, name, failed, category, state, error, session_id, duration_ms, started_at) VALUES (%s)",
		s.tn.ScenarioResults, s.placeholders(10))
	for _, sc := range rec.Scenarios {
		if _, err := tx.ExecContext(ctx, q,
			rec.ID, sc.ScenarioRunID, sc.Name, d.ConvertBoolToStorage(sc.Failed),
			sc.Category, sc.State, nullString(sc.Error), nullString(sc.SessionID),
			sc.Duration.Milliseconds(), d.ConvertTimeToStorage(sc.StartedAt),
		); err != nil {
			return fmt.Errorf("insert scenario result %q: %w", sc.Name, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent suite runs first; limit <= 0 returns all of them.
// Scenario records are not loaded.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]SuiteRecord, error) {
	q := fmt.Sprintf("SELECT id, backend, started_at, finished_at, exit_code, passed, failed, skipped, error FROM %s ORDER BY started_at DESC, id DESC", s.tn.SuiteRuns)
	var args []interface{}
	if limit > 0 {
		q += " LIMIT " + s.dialect.GetPlaceholder(1)
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SuiteRecord
	for rows.Next() {
		var (
			rec            SuiteRecord
			started, ended interface{}
			errText        sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Backend, &started, &ended, &rec.ExitCode, &rec.Passed, &rec.Failed, &rec.Skipped, &errText); err != nil {
			return nil, err
		}
		rec.StartedAt = s.dialect.ConvertTimeFromStorage(started)
		rec.FinishedAt = s.dialect.ConvertTimeFromStorage(ended)
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun loads one suite run with its scenario records
func (s *Store) GetRun(ctx context.Context, runID string) (SuiteRecord, error) {
	q := fmt.Sprintf("SELECT id, backend, started_at, finished_at, exit_code, passed, failed, skipped, error FROM %s WHERE id = %s",
		s.tn.SuiteRuns, s.dialect.GetPlaceholder(1))
	var (
		rec            SuiteRecord
		started, ended interface{}
		errText        sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, q, runID).Scan(&rec.ID, &rec.Backend, &started, &ended, &rec.ExitCode, &rec.Passed, &rec.Failed, &rec.Skipped, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return SuiteRecord{}, fmt.Errorf("suite run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return SuiteRecord{}, err
	}
	rec.StartedAt = s.dialect.ConvertTimeFromStorage(started)
	rec.FinishedAt = s.dialect.ConvertTimeFromStorage(ended)
	rec.Error = errText.String
	rec.Scenarios, err = s.ListScenarioResults(ctx, runID)
	return rec, err
}

// ErrNotFound is returned when a requested run does not exist
var ErrNotFound = errors.New("not found")

// ListScenarioResults returns the scenario records of a run in insertion order
func (s *Store) ListScenarioResults(ctx context.Context, runID string) ([]ScenarioRecord, error) {
	q := fmt.Sprintf("SELECT run_id, scenario_run_id, name, failed, category, state, error, session_id, duration_ms, started_at FROM %s WHERE run_id = %s ORDER BY id ASC",
		s.tn.ScenarioResults, s.dialect.GetPlaceholder(1))
	rows, err := s.DB.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ScenarioRecord
	for rows.Next() {
		var (
			rec                ScenarioRecord
			failed, started    interface{}
			errText, sessionID sql.NullString
			durationMS         int64
		)
		if err := rows.Scan(&rec.RunID, &rec.ScenarioRunID, &rec.Name, &failed, &rec.Category, &rec.State, &errText, &sessionID, &durationMS, &started); err != nil {
			return nil, err
		}
		rec.Failed = s.dialect.ConvertBoolFromStorage(failed)
		rec.Error = errText.String
		rec.SessionID = sessionID.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.StartedAt = s.dialect.ConvertTimeFromStorage(started)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes suite runs that started before the cutoff together with their scenarios
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := retry.WithRetry(ctx, s.retry, func() error {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		cutoff := s.dialect.ConvertTimeToStorage(before)
		sub := fmt.Sprintf("SELECT id FROM %s WHERE started_at < %s", s.tn.SuiteRuns, s.dialect.GetPlaceholder(1))
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id IN (%s)", s.tn.ScenarioResults, sub), cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE started_at < %s", s.tn.SuiteRuns, s.dialect.GetPlaceholder(1)), cutoff)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
