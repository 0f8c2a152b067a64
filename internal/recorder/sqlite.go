package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists rebalancing history to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the router writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r, err := NewSQLiteRecorderFromDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

// NewSQLiteRecorderFromDB wraps an already opened database and runs migrations.
func NewSQLiteRecorderFromDB(db *sql.DB, logger *zap.Logger) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycle_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			cycle_id        TEXT,
			pool            TEXT,
			asset           TEXT,
			action          TEXT,
			total_liquidity INTEGER,
			steps           INTEGER,
			cursor          INTEGER,
			discarded       INTEGER,
			note            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_ts ON cycle_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS step_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			cycle_id    TEXT,
			pool        TEXT,
			asset       TEXT,
			cursor      INTEGER,
			destination INTEGER,
			operation   TEXT,
			amount      INTEGER,
			collateral  INTEGER,
			released    INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_cycle ON step_events(cycle_id)`,

		`CREATE TABLE IF NOT EXISTS distribution_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			asset     TEXT,
			authority TEXT,
			sequence  INTEGER,
			shares    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_distribution_ts ON distribution_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS income_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			pool      TEXT,
			asset     TEXT,
			accrued   TEXT,
			total     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_income_ts ON income_events(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Amounts are stored as signed integers; SQLite has no unsigned 64-bit column.
func (r *SQLiteRecorder) RecordCycle(evt *CycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO cycle_events
		(timestamp, cycle_id, pool, asset, action, total_liquidity, steps, cursor, discarded, note)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.CycleID, evt.Pool, evt.Asset, evt.Action,
		int64(evt.TotalLiquidity), evt.Steps, evt.Cursor, evt.Discarded, evt.Note,
	)
	return err
}

func (r *SQLiteRecorder) RecordStep(evt *StepEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO step_events
		(timestamp, cycle_id, pool, asset, cursor, destination, operation, amount, collateral, released, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.CycleID, evt.Pool, evt.Asset, evt.Cursor, evt.Destination,
		evt.Operation, int64(evt.Amount), int64(evt.Collateral), int64(evt.Released), evt.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordDistribution(evt *DistributionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shares, err := json.Marshal(evt.Shares)
	if err != nil {
		return fmt.Errorf("marshal shares: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO distribution_events
		(timestamp, asset, authority, sequence, shares)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), evt.Asset, evt.Authority, int64(evt.Sequence), string(shares),
	)
	return err
}

func (r *SQLiteRecorder) RecordIncome(evt *IncomeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accrued, err := json.Marshal(evt.Accrued)
	if err != nil {
		return fmt.Errorf("marshal accrued: %w", err)
	}
	_, err = r.db.Exec(`INSERT INTO income_events
		(timestamp, pool, asset, accrued, total)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), evt.Pool, evt.Asset, string(accrued), int64(evt.Total),
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}
