package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"momentum/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)
var _ FlowStore = (*SQLiteStore)(nil)

// SQLiteStore implements OrderStore, SignalStore and FlowStore backed by a
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		broker_id        TEXT NOT NULL DEFAULT '',
		session_date     TEXT NOT NULL,
		phase            TEXT NOT NULL,
		code             TEXT NOT NULL,
		side             TEXT NOT NULL,
		type             TEXT NOT NULL,
		qty              INTEGER NOT NULL,
		status           TEXT NOT NULL,
		reason           TEXT NOT NULL DEFAULT '',
		filled_qty       INTEGER NOT NULL DEFAULT 0,
		filled_avg_price REAL NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		UNIQUE (session_date, phase)
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		run_id       TEXT PRIMARY KEY,
		session_date TEXT NOT NULL,
		direction    TEXT NOT NULL,
		open_time    TEXT NOT NULL DEFAULT '',
		open_price   REAL NOT NULL DEFAULT 0,
		ref_time     TEXT NOT NULL DEFAULT '',
		ref_price    REAL NOT NULL DEFAULT 0,
		ret          REAL NOT NULL DEFAULT 0,
		reason       TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS foreign_flow (
		date       TEXT PRIMARY KEY,
		net        REAL NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, broker_id, session_date, phase, code, side, type, qty, status,
	reason, filled_qty, filled_avg_price, created_at, updated_at`

// SaveOrder inserts a new order into the database.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_date, phase) DO NOTHING`,
		o.ID, o.BrokerID, o.SessionDate, string(o.Phase), o.Code, string(o.Side), string(o.Type),
		o.Qty, string(o.Status), o.Reason, o.FilledQty, o.FilledAvgPrice,
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", o.SessionDate, o.Phase, ErrOrderExists)
	}
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

// FindOrder retrieves the order journaled for a session phase.
func (s *SQLiteStore) FindOrder(ctx context.Context, sessionDate string, phase domain.Phase) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session_date = ? AND phase = ?`,
		sessionDate, string(phase))
	return scanOrder(row)
}

// ListOrders returns all orders of a session date.
func (s *SQLiteStore) ListOrders(ctx context.Context, sessionDate string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session_date = ? ORDER BY created_at, id`,
		sessionDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrder persists changes to an existing order. Terminal rows are never
// rewritten to a different status.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET
		broker_id = ?, status = ?, reason = ?, filled_qty = ?, filled_avg_price = ?, updated_at = ?
		WHERE id = ? AND (status NOT IN ('filled', 'rejected') OR status = ?)`,
		o.BrokerID, string(o.Status), o.Reason, o.FilledQty, o.FilledAvgPrice,
		o.UpdatedAt.UnixMilli(), o.ID, string(o.Status))
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update order %s to %s: %w", o.ID, o.Status, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var (
		o                        domain.Order
		phase, side, typ, status string
		createdAt, updatedAt     int64
	)
	err := r.Scan(&o.ID, &o.BrokerID, &o.SessionDate, &phase, &o.Code, &side, &typ, &o.Qty,
		&status, &o.Reason, &o.FilledQty, &o.FilledAvgPrice, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Phase = domain.Phase(phase)
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	return &o, nil
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a decision into the database.
func (s *SQLiteStore) SaveSignal(ctx context.Context, rec SignalRecord) error {
	sig := rec.Signal
	var openTime, refTime string
	var openPrice, refPrice float64
	if sig.Open != nil {
		openTime, openPrice = sig.Open.Time, sig.Open.Price
	}
	if sig.Reference != nil {
		refTime, refPrice = sig.Reference.Time, sig.Reference.Price
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO signals
		(run_id, session_date, direction, open_time, open_price, ref_time, ref_price, ret, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.SessionDate, string(sig.Direction), openTime, openPrice,
		refTime, refPrice, finiteOrZero(sig.Return), sig.Reason, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", rec.RunID, err)
	}
	return nil
}

// ListSignals returns the most recent signals, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, session_date, direction, open_time,
		open_price, ref_time, ref_price, ret, reason, created_at
		FROM signals ORDER BY created_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var (
			rec                    SignalRecord
			dir, openTime, refTime string
			openPrice, refPrice    float64
			createdAt              int64
		)
		if err := rows.Scan(&rec.RunID, &rec.SessionDate, &dir, &openTime, &openPrice,
			&refTime, &refPrice, &rec.Signal.Return, &rec.Signal.Reason, &createdAt); err != nil {
			return nil, err
		}
		rec.Signal.Direction = domain.Direction(dir)
		if openTime != "" {
			rec.Signal.Open = &domain.Bar{Date: rec.SessionDate, Time: openTime, Price: openPrice}
		}
		if refTime != "" {
			rec.Signal.Reference = &domain.Bar{Date: rec.SessionDate, Time: refTime, Price: refPrice}
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// FlowStore implementation
// ---------------------------------------------------------------------------

// SaveForeignFlow upserts the net foreign flow for a date.
func (s *SQLiteStore) SaveForeignFlow(ctx context.Context, date string, net float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO foreign_flow (date, net, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET net = excluded.net, updated_at = excluded.updated_at`,
		date, net, time.Now().UnixMilli())
	return err
}

// GetForeignFlow returns the cached flow for a date or domain.ErrNotFound.
func (s *SQLiteStore) GetForeignFlow(ctx context.Context, date string) (float64, error) {
	var net float64
	err := s.db.QueryRowContext(ctx, `SELECT net FROM foreign_flow WHERE date = ?`, date).Scan(&net)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return net, err
}

// ForeignFlows returns every cached flow keyed by date.
func (s *SQLiteStore) ForeignFlows(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, net FROM foreign_flow`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var d string
		var net float64
		if err := rows.Scan(&d, &net); err != nil {
			return nil, err
		}
		out[d] = net
	}
	return out, rows.Err()
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
