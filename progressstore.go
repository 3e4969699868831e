package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// UnitState is the processing state of a potential unit.
type UnitState string

const (
	UnitPending    UnitState = "PENDING"
	UnitProcessing UnitState = "PROCESSING"
	UnitSuccess    UnitState = "SUCCESS"
	UnitFailure    UnitState = "FAILURE"
)

// ErrUnitNotFound is returned for units without progress record.
var ErrUnitNotFound = errors.New("unit not found")

// UnitKey identifies one independent potential unit.
type UnitKey struct {
	TileIndex  int
	SubIndex   int
	Simulation string
	Floor      int
}

func (k UnitKey) String() string {
	return fmt.Sprintf("%d/%d/%s/%d", k.TileIndex, k.SubIndex, k.Simulation, k.Floor)
}

// UnitProgress is the persisted state of a unit.
type UnitProgress struct {
	Key       UnitKey
	RunID     string
	State     UnitState
	Errors    string
	UpdatedAt time.Time
}

/*
ProgressStore persists per-unit progress in SQLite (last writer wins per unit).
*/
type ProgressStore struct {
	db *sql.DB
}

/*
OpenProgressStore opens (or creates) the database and applies pending migrations.
*/
func OpenProgressStore(path string) (*ProgressStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at sql.Open(), file %s", err, path)
	}
	// sqlite allows one writer; serialize on a single connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		_, err = db.Exec(pragma)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error [%w] at db.Exec(), %s", err, pragma)
		}
	}

	err = migrateUp(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ProgressStore{db: db}, nil
}

/*
migrateUp applies all embedded migrations.
*/
func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("error [%w] at iofs.New()", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("error [%w] at sqlite.WithInstance()", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("error [%w] at migrate.NewWithInstance()", err)
	}
	m.Log = migrateLogger{}

	// m is not closed, closing would close the database
	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error [%w] at m.Up()", err)
	}
	return nil
}

// migrateLogger forwards migration messages to slog
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Debug("migrate", "message", fmt.Sprintf(format, v...))
}

func (migrateLogger) Verbose() bool {
	return false
}

/*
Close closes the database.
*/
func (s *ProgressStore) Close() error {
	return s.db.Close()
}

/*
CreatePending inserts PENDING records for units without record and returns the number inserted.
*/
func (s *ProgressStore) CreatePending(ctx context.Context, keys []UnitKey, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error [%w] at db.BeginTx()", err)
	}
	defer func() { _ = tx.Rollback() }()

	statement, err := tx.PrepareContext(ctx, `INSERT INTO unit_progress (tile_index, sub_index, simulation, floor, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("error [%w] at tx.PrepareContext()", err)
	}
	defer statement.Close()

	inserted := 0
	for _, key := range keys {
		result, err := statement.ExecContext(ctx, key.TileIndex, key.SubIndex, key.Simulation, key.Floor, UnitPending, now.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("error [%w] at statement.ExecContext(), unit %s", err, key)
		}
		n, _ := result.RowsAffected()
		inserted += int(n)
	}
	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("error [%w] at tx.Commit()", err)
	}
	return inserted, nil
}

/*
Claim marks a unit PROCESSING for runID. It returns false for units already in state SUCCESS
and for units processed by another run within the last timeout.
*/
func (s *ProgressStore) Claim(ctx context.Context, key UnitKey, runID string, now time.Time, timeout time.Duration) (bool, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO unit_progress (tile_index, sub_index, simulation, floor, run_id, state, errors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT (tile_index, sub_index, simulation, floor) DO UPDATE
		SET run_id = excluded.run_id, state = excluded.state, errors = '', updated_at = excluded.updated_at
		WHERE unit_progress.state != ?
		AND NOT (unit_progress.state = ? AND unit_progress.updated_at >= ?)`,
		key.TileIndex, key.SubIndex, key.Simulation, key.Floor, runID, UnitProcessing, now.UnixMilli(),
		UnitSuccess, UnitProcessing, now.Add(-timeout).UnixMilli())
	if err != nil {
		return false, fmt.Errorf("error [%w] at db.ExecContext(), unit %s", err, key)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error [%w] at result.RowsAffected()", err)
	}
	return n > 0, nil
}

/*
SetState records the state of a unit (with error payload for FAILURE).
*/
func (s *ProgressStore) SetState(ctx context.Context, key UnitKey, state UnitState, errorPayload string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO unit_progress (tile_index, sub_index, simulation, floor, state, errors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tile_index, sub_index, simulation, floor) DO UPDATE
		SET state = excluded.state, errors = excluded.errors, updated_at = excluded.updated_at`,
		key.TileIndex, key.SubIndex, key.Simulation, key.Floor, state, errorPayload, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("error [%w] at db.ExecContext(), unit %s", err, key)
	}
	return nil
}

/*
Get returns the progress of a unit.
*/
func (s *ProgressStore) Get(ctx context.Context, key UnitKey) (UnitProgress, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, state, errors, updated_at FROM unit_progress
		WHERE tile_index = ? AND sub_index = ? AND simulation = ? AND floor = ?`,
		key.TileIndex, key.SubIndex, key.Simulation, key.Floor)
	progress := UnitProgress{Key: key}
	var updated int64
	err := row.Scan(&progress.RunID, &progress.State, &progress.Errors, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return progress, fmt.Errorf("%w: %s", ErrUnitNotFound, key)
	}
	if err != nil {
		return progress, fmt.Errorf("error [%w] at row.Scan(), unit %s", err, key)
	}
	progress.UpdatedAt = time.UnixMilli(updated)
	return progress, nil
}

/*
Rerunnable returns the units to run again: all FAILURE units and PROCESSING units
not updated within timeout.
*/
func (s *ProgressStore) Rerunnable(ctx context.Context, timeout time.Duration, now time.Time) ([]UnitKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tile_index, sub_index, simulation, floor FROM unit_progress
		WHERE state = ? OR (state = ? AND updated_at < ?)
		ORDER BY tile_index, sub_index, simulation, floor`,
		UnitFailure, UnitProcessing, now.Add(-timeout).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("error [%w] at db.QueryContext()", err)
	}
	defer rows.Close()

	var keys []UnitKey
	for rows.Next() {
		var key UnitKey
		err = rows.Scan(&key.TileIndex, &key.SubIndex, &key.Simulation, &key.Floor)
		if err != nil {
			return nil, fmt.Errorf("error [%w] at rows.Scan()", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

/*
Counts returns the number of units per state.
*/
func (s *ProgressStore) Counts(ctx context.Context) (map[UnitState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM unit_progress GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at db.QueryContext()", err)
	}
	defer rows.Close()

	counts := make(map[UnitState]int)
	for rows.Next() {
		var state UnitState
		var n int
		err = rows.Scan(&state, &n)
		if err != nil {
			return nil, fmt.Errorf("error [%w] at rows.Scan()", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
