package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"trading-signalsync/internal/model"
	"trading-signalsync/internal/strategy"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite bar store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Store persists each instrument's bar series, its indicator columns and
// the sync state of its signal machine.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; loops serialize through the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			instrument  TEXT    NOT NULL,
			interval    TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL    NOT NULL DEFAULT 0,
			rsi         REAL    NOT NULL DEFAULT 0,
			macd        REAL    NOT NULL DEFAULT 0,
			macd_signal REAL    NOT NULL DEFAULT 0,
			macd_hist   REAL    NOT NULL DEFAULT 0,
			stoch_k     REAL    NOT NULL DEFAULT 0,
			stoch_d     REAL    NOT NULL DEFAULT 0,
			ready       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS sync_state (
			instrument TEXT    PRIMARY KEY,
			interval   TEXT    NOT NULL,
			cursor_ts  INTEGER NOT NULL DEFAULT 0,
			position   TEXT,
			pending    TEXT,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	// databases created before queued events were persisted
	_, err = db.Exec(`ALTER TABLE sync_state ADD COLUMN pending TEXT`)
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		err = nil
	}
	return err
}

// readiness flags packed into the ready column
const (
	readyRSI = 1 << iota
	readyMACD
	readyStoch
)

// Save writes the merged series of one instrument in a single transaction.
// Rows stored under another interval are removed first, so the table never
// mixes intervals for one instrument.
func (s *Store) Save(ctx context.Context, instrument string, iv model.Interval, rows []model.IndicatorRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bars WHERE instrument = ? AND interval <> ?`, instrument, string(iv)); err != nil {
		return fmt.Errorf("sqlite purge stale interval: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars
			(instrument, interval, ts, open, high, low, close, volume,
			 rsi, macd, macd_signal, macd_hist, stoch_k, stoch_d, ready)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		ready := 0
		if r.RSIReady {
			ready |= readyRSI
		}
		if r.MACDReady {
			ready |= readyMACD
		}
		if r.StochReady {
			ready |= readyStoch
		}
		if _, err := stmt.ExecContext(ctx,
			instrument, string(iv), r.TS.Unix(), r.Open, r.High, r.Low, r.Close, r.Volume,
			r.RSI, r.MACD, r.MACDSignal, r.MACDHist, r.StochK, r.StochD, ready,
		); err != nil {
			return fmt.Errorf("sqlite insert bar: %w", err)
		}
	}

	return tx.Commit()
}

// Reset deletes every stored bar of the instrument.
func (s *Store) Reset(ctx context.Context, instrument string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE instrument = ?`, instrument); err != nil {
		return fmt.Errorf("sqlite reset %s: %w", instrument, err)
	}
	return nil
}

// SaveState upserts the machine state of one instrument, including the
// closed events still waiting for the signal log.
func (s *Store) SaveState(ctx context.Context, instrument string, iv model.Interval, st strategy.State) error {
	var position sql.NullString
	if st.Open != nil {
		b, err := json.Marshal(st.Open)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		position = sql.NullString{String: string(b), Valid: true}
	}
	var pending sql.NullString
	if len(st.Pending) > 0 {
		b, err := json.Marshal(st.Pending)
		if err != nil {
			return fmt.Errorf("marshal pending: %w", err)
		}
		pending = sql.NullString{String: string(b), Valid: true}
	}
	var cursor int64
	if !st.Cursor.IsZero() {
		cursor = st.Cursor.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (instrument, interval, cursor_ts, position, pending, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument) DO UPDATE SET
			interval = excluded.interval,
			cursor_ts = excluded.cursor_ts,
			position = excluded.position,
			pending = excluded.pending,
			updated_at = excluded.updated_at
	`, instrument, string(iv), cursor, position, pending, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite save state %s: %w", instrument, err)
	}
	return nil
}

// ClearState removes the persisted state of the instrument.
func (s *Store) ClearState(ctx context.Context, instrument string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE instrument = ?`, instrument); err != nil {
		return fmt.Errorf("sqlite clear state %s: %w", instrument, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
