package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evolab/gactl/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Run is a row of the runs table. Result is nil while the run is in progress.
type Run struct {
	model.RunInfo
	InProgress bool             `json:"inProgress"`
	Result     *model.RunResult `json:"result,omitempty"`
}

// Store keeps a record of every optimizer run in sqlite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, ":memory:" works for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer, a memory database exists per connection
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			pid INTEGER NOT NULL,
			started TEXT NOT NULL,
			config TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL,
			stopped TEXT DEFAULT NULL,
			exit_code INTEGER DEFAULT NULL,
			stop_requested BOOLEAN DEFAULT NULL,
			outcome TEXT DEFAULT NULL,
			error_kind TEXT DEFAULT NULL,
			error TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
	}
}

// Start records that the run is in progress. Recording an in progress run
// again is a no-op, a finished one returns ErrAlreadyFinished.
func (s *Store) Start(ctx context.Context, run model.RunInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, run.ID)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, run.ID,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	config, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encoding run config: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, pid, started, config, in_progress) VALUES (?,?,?,?,?);`,
		run.ID, run.PID, run.Started.UTC().Format(time.RFC3339Nano), string(config), true,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores how the run ended. It returns ErrNotFound for a run never
// started and ErrAlreadyFinished when called twice.
func (s *Store) Finish(ctx context.Context, res model.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, res.ID)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, res.ID,
	).Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs
		 SET
			in_progress = false,
			stopped = ?,
			exit_code = ?,
			stop_requested = ?,
			outcome = ?,
			error_kind = ?,
			error = ?
		WHERE uuid = ?;
		`, res.Stopped.UTC().Format(time.RFC3339Nano), res.ExitCode, res.StopRequested,
		res.Outcome, nullable(res.ErrorKind), nullable(res.Error), res.ID,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const columns = `uuid, pid, started, config, in_progress, stopped, exit_code, stop_requested, outcome, error_kind, error`

// Get returns the run identified by uuid or ErrNotFound.
func (s *Store) Get(ctx context.Context, uuid string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM runs WHERE uuid=?`, uuid,
	)
	run, err := scan(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Run{}, ErrNotFound
	case err != nil:
		return Run{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return run, nil
}

// List returns up to limit runs, the most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sql row failed: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sql rows failed: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (Run, error) {
	var (
		run           Run
		started       string
		config        string
		stopped       sql.NullString
		exitCode      sql.NullInt64
		stopRequested sql.NullBool
		outcome       sql.NullString
		errorKind     sql.NullString
		errorMsg      sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.PID,
		&started,
		&config,
		&run.InProgress,
		&stopped,
		&exitCode,
		&stopRequested,
		&outcome,
		&errorKind,
		&errorMsg,
	)
	if err != nil {
		return Run{}, err
	}
	if run.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parsing started: %w", err)
	}
	if err := json.Unmarshal([]byte(config), &run.Config); err != nil {
		return Run{}, fmt.Errorf("decoding run config: %w", err)
	}
	if run.InProgress {
		return run, nil
	}

	res := &model.RunResult{
		RunInfo:       run.RunInfo,
		ExitCode:      int(exitCode.Int64),
		StopRequested: stopRequested.Bool,
		Outcome:       outcome.String,
		ErrorKind:     errorKind.String,
		Error:         errorMsg.String,
	}
	if stopped.Valid {
		if res.Stopped, err = time.Parse(time.RFC3339Nano, stopped.String); err != nil {
			return Run{}, fmt.Errorf("parsing stopped: %w", err)
		}
	}
	run.Result = res
	return run, nil
}

// RunStarted implements service.Observer.
func (s *Store) RunStarted(ctx context.Context, run model.RunInfo) {
	if err := s.Start(ctx, run); err != nil {
		slog.ErrorContext(ctx, "recording run start", "error", err)
	}
}

// RunFinished implements service.Observer.
func (s *Store) RunFinished(ctx context.Context, res model.RunResult) {
	if err := s.Finish(ctx, res); err != nil {
		slog.ErrorContext(ctx, "recording run finish", "error", err)
	}
}
