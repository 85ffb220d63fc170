// Package store persists fill-ingestion state across restarts
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal records applied trade IDs and the fill-history cursor so a
// restart never double-counts fills already booked.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (and if needed initializes) the journal database
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS applied_trades (
		client_order_id TEXT NOT NULL,
		trade_id        TEXT NOT NULL,
		fill_ts         INTEGER NOT NULL,
		recorded_at     INTEGER NOT NULL,
		PRIMARY KEY (client_order_id, trade_id)
	);
	CREATE TABLE IF NOT EXISTS fill_cursor (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		fill_ts INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordTrade marks a trade ID as applied to an order. Re-recording the
// same trade is a no-op.
func (j *Journal) RecordTrade(ctx context.Context, clientOrderID, tradeID string, fillTS int64) error {
	query := `INSERT OR IGNORE INTO applied_trades (client_order_id, trade_id, fill_ts, recorded_at) VALUES (?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query, clientOrderID, tradeID, fillTS, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// HasTrade reports whether a trade ID was already applied to an order
func (j *Journal) HasTrade(ctx context.Context, clientOrderID, tradeID string) (bool, error) {
	query := `SELECT 1 FROM applied_trades WHERE client_order_id = ? AND trade_id = ?`
	var one int
	err := j.db.QueryRowContext(ctx, query, clientOrderID, tradeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query trade: %w", err)
	}
	return true, nil
}

// SaveCursor persists the newest applied fill timestamp
func (j *Journal) SaveCursor(ctx context.Context, fillTS int64) error {
	tx, err := j.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The cursor only moves forward.
	query := `INSERT INTO fill_cursor (id, fill_ts) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET fill_ts = MAX(fill_cursor.fill_ts, excluded.fill_ts)`
	if _, err := tx.ExecContext(ctx, query, fillTS); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return tx.Commit()
}

// LoadCursor returns the persisted fill cursor, zero when none exists
func (j *Journal) LoadCursor(ctx context.Context) (int64, error) {
	query := `SELECT fill_ts FROM fill_cursor WHERE id = 1`
	var ts int64
	err := j.db.QueryRowContext(ctx, query).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}
	return ts, nil
}

// PruneBefore drops applied-trade records older than the given fill
// timestamp. Terminal orders never see their trades again, so the table
// stays bounded.
func (j *Journal) PruneBefore(ctx context.Context, fillTS int64) error {
	query := `DELETE FROM applied_trades WHERE fill_ts < ?`
	if _, err := j.db.ExecContext(ctx, query, fillTS); err != nil {
		return fmt.Errorf("failed to prune trades: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}
