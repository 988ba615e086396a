/*
Package sqlite provides a SQLite-backed implementation of the booking store
ports.

PURPOSE:
  Implements booking.TxStore (inventory, reservations, people, callback
  log) and booking.SequenceStore on a single SQLite database.

KEY TABLES:
  properties:   Listings, with their ordered unit ids as JSON
  units:        Bookable units; name is unique (case-insensitive)
  blocks:       Manual blocks, cascade-deleted with their unit
  reservations: Denormalized reservations; token is unique
  people:       Guest contact records keyed by lowercased email
  sequences:    Named counters, incremented with one UPSERT ... RETURNING
  callbacks:    Processed gateway event ids

ENCODING:
  Dates are stored as YYYY-MM-DD text so interval overlap is a plain string
  comparison. Instants use a fixed-width UTC layout for the same reason.
  Money is stored as decimal text, never as REAL.

CONCURRENCY:
  The pool is limited to one connection. Every statement and every
  transaction is therefore serialized by database/sql, which makes the
  commit-time overlap check in WithTx authoritative. This also keeps a
  ":memory:" database shared across calls.

USAGE:
  store, err := sqlite.New("./data/reservations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/reservation-engine/booking"
)

// timeLayout is fixed-width so stored instants sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements booking.TxStore and booking.SequenceStore.
type Store struct {
	queries
	db *sql.DB
}

var (
	_ booking.TxStore       = (*Store)(nil)
	_ booking.SequenceStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL DEFAULT '0',
		unit_ids_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		rate TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		bedrooms INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_units_property ON units(property_id);

	CREATE TABLE IF NOT EXISTS blocks (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		arrival TEXT NOT NULL,
		departure TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_unit ON blocks(unit_id, arrival);

	-- No foreign key to units: reservations outlive deleted inventory.
	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY,
		unit_id TEXT NOT NULL,
		unit_name TEXT NOT NULL,
		rate TEXT NOT NULL,
		guest_name TEXT NOT NULL,
		guest_email TEXT NOT NULL,
		guest_phone TEXT NOT NULL DEFAULT '',
		guest_country TEXT NOT NULL DEFAULT '',
		guest_city TEXT NOT NULL DEFAULT '',
		guest_street TEXT NOT NULL DEFAULT '',
		arrival TEXT NOT NULL,
		departure TEXT NOT NULL,
		nights INTEGER NOT NULL,
		total TEXT NOT NULL,
		hold_amount TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		payment_state TEXT NOT NULL,
		customer_ref TEXT NOT NULL DEFAULT '',
		method_ref TEXT NOT NULL DEFAULT '',
		setup_ref TEXT NOT NULL DEFAULT '',
		setup_expires_at TEXT NOT NULL DEFAULT '',
		hold_ref TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		captured TEXT NOT NULL DEFAULT '0',
		refunded_at TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: commit-time overlap check per unit.
	CREATE INDEX IF NOT EXISTS idx_reservations_unit_dates
		ON reservations(unit_id, arrival, departure);
	CREATE INDEX IF NOT EXISTS idx_reservations_pending_setup
		ON reservations(status, payment_state, setup_expires_at);

	CREATE TABLE IF NOT EXISTS people (
		email TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		street_address TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS callbacks (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		reservation_id INTEGER NOT NULL DEFAULT 0,
		received_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every query on the open transaction.
type txStore struct {
	queries
}

// =============================================================================
// SEQUENCES (booking.SequenceStore interface)
// =============================================================================

// NextSequence creates the counter at 1 or increments it, in one statement.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return v, nil
}

// MaxReservationID is the highest reservation id this database has handed
// out: the larger of the stored ids and the local counter, which also
// covers ids burned by failed bookings. Zero for an empty database.
func (s *Store) MaxReservationID(ctx context.Context) (booking.ReservationID, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(id), 0) FROM reservations),
			(SELECT COALESCE(MAX(value), 0) FROM sequences WHERE name = ?)
		)
	`, booking.ReservationSequence).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read max reservation id: %w", err)
	}
	return booking.ReservationID(v), nil
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// Helper functions

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseDate(s string) booking.Date {
	d, err := booking.ParseDate(s)
	if err != nil {
		return booking.Date{}
	}
	return d
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func rowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
