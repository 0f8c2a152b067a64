package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"YieldRouter/internal/model"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records as JSON blobs in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps transactions on one handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s, err := NewSQLiteStoreFromDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite store opened", zap.String("path", dbPath))
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already opened database and runs migrations.
func NewSQLiteStoreFromDB(db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oracle_records (
			asset      TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS rebalancing_records (
			id         TEXT PRIMARY KEY,
			pool       TEXT NOT NULL,
			asset      TEXT NOT NULL,
			state      TEXT NOT NULL,
			data       TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalancing_pair ON rebalancing_records(pool, asset, started_at)`,

		`CREATE TABLE IF NOT EXISTS allocations (
			pool       TEXT NOT NULL,
			asset      TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (pool, asset)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) GetOracle(ctx context.Context, asset string) (*model.OracleRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM oracle_records WHERE asset = ?`, asset).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query oracle %s: %w", asset, err)
	}
	var rec model.OracleRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode oracle %s: %w", asset, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) SaveOracle(ctx context.Context, rec *model.OracleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode oracle %s: %w", rec.Asset, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO oracle_records (asset, data, updated_at) VALUES (?,?,?)
		ON CONFLICT(asset) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		rec.Asset, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save oracle %s: %w", rec.Asset, err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, pool, asset string) (*model.RebalancingRecord, error) {
	list, err := s.ListCycles(ctx, pool, asset, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, model.ErrNotFound
	}
	return list[0], nil
}

func (s *SQLiteStore) ListCycles(ctx context.Context, pool, asset string, limit int) ([]*model.RebalancingRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM rebalancing_records
		WHERE pool = ? AND asset = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		pool, asset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cycles %s/%s: %w", pool, asset, err)
	}
	defer rows.Close()

	var out []*model.RebalancingRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		var rec model.RebalancingRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode cycle: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAllocations(ctx context.Context, pool, asset string) (*model.AllocationSet, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM allocations WHERE pool = ? AND asset = ?`, pool, asset).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query allocations %s/%s: %w", pool, asset, err)
	}
	var set model.AllocationSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, fmt.Errorf("decode allocations %s/%s: %w", pool, asset, err)
	}
	return &set, nil
}

func (s *SQLiteStore) SaveCycle(ctx context.Context, rec *model.RebalancingRecord, allocs *model.AllocationSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := saveCycle(ctx, tx, rec); err != nil {
		tx.Rollback()
		return err
	}
	if allocs != nil {
		if err := saveAllocations(ctx, tx, allocs); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveAllocations(ctx context.Context, allocs *model.AllocationSet) error {
	return saveAllocations(ctx, s.db, allocs)
}

func saveCycle(ctx context.Context, db execer, rec *model.RebalancingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cycle %s: %w", rec.ID, err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO rebalancing_records
		(id, pool, asset, state, data, started_at, updated_at) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, data = excluded.data, updated_at = excluded.updated_at`,
		rec.ID, rec.Pool, rec.Asset, string(rec.State), string(data),
		rec.StartedAt.UnixNano(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save cycle %s: %w", rec.ID, err)
	}
	return nil
}

func saveAllocations(ctx context.Context, db execer, allocs *model.AllocationSet) error {
	data, err := json.Marshal(allocs)
	if err != nil {
		return fmt.Errorf("encode allocations %s/%s: %w", allocs.Pool, allocs.Asset, err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO allocations (pool, asset, data, updated_at) VALUES (?,?,?,?)
		ON CONFLICT(pool, asset) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		allocs.Pool, allocs.Asset, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save allocations %s/%s: %w", allocs.Pool, allocs.Asset, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sqlite store")
	return s.db.Close()
}
