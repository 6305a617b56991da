/*
Package sqlite provides a SQLite-backed implementation of the billing
repository and audit sink.

PURPOSE:
  Implements billing.TxRepository and billing.AuditSink on SQLite. The
  engine only sees the interfaces; the same queries run against PostgreSQL
  with minor dialect changes.

KEY TABLES:
  contracts:        Contract settings and participants (read by the engine)
  invoices:         Invoice amounts; margin/total fields are written back
  margin_records:   One per invoice (UNIQUE invoice_id)
  margin_overrides: Append-only override log
  payment_records:  Payments created by workflow dispatch
  workflow_runs:    One per (invoice_id, payment_model), the dispatch guard
  audit_events:     Persisted audit trail

DECIMALS:
  Every amount and percentage is stored as TEXT holding the decimal string.
  REAL columns would reintroduce the float drift Money exists to avoid.

CONSTRAINTS:
  UNIQUE violations map to billing.ConflictError and FOREIGN KEY violations
  to billing.NotFoundError. Any other driver error is wrapped as a
  billing.ExternalServiceError so callers can retry it.

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer
  anyway, and ":memory:" databases exist per connection. Transactions run
  on that connection, so WithTx serializes with everything else.

USAGE:
  store, err := sqlite.New("./data/payflow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := margin.NewService(store, store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
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

	"github.com/warp/payment-engine/billing"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.TxRepository and billing.AuditSink.
type Store struct {
	*queries
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Open wraps an existing connection pool and migrates the schema.
func Open(db *sql.DB) (*Store, error) {
	s := &Store{queries: &queries{db: db}, db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		margin TEXT NOT NULL,
		margin_type TEXT NOT NULL,
		margin_paid_by TEXT,
		payment_model TEXT NOT NULL,
		participants_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_tenant
		ON contracts(tenant_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		margin_amount TEXT NOT NULL DEFAULT '0',
		margin_percentage TEXT NOT NULL DEFAULT '0',
		total_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		line_items_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_contract
		ON invoices(contract_id);

	-- At most one margin record per invoice
	CREATE TABLE IF NOT EXISTS margin_records (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		contract_id TEXT NOT NULL,
		margin_type TEXT NOT NULL,
		margin_percentage TEXT NOT NULL,
		margin_amount TEXT NOT NULL,
		calculated_margin TEXT NOT NULL,
		currency TEXT NOT NULL,
		is_overridden INTEGER NOT NULL DEFAULT 0,
		overridden_by TEXT,
		overridden_at TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_margin_records_contract
		ON margin_records(contract_id, created_at);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS margin_overrides (
		id TEXT PRIMARY KEY,
		margin_id TEXT NOT NULL REFERENCES margin_records(id),
		invoice_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		previous_type TEXT NOT NULL,
		previous_amount TEXT NOT NULL,
		previous_percentage TEXT NOT NULL,
		new_amount TEXT NOT NULL,
		new_percentage TEXT NOT NULL,
		currency TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_margin_overrides_margin
		ON margin_overrides(margin_id, created_at);

	CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		tenant_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		description TEXT,
		notes TEXT,
		created_by TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_records_invoice
		ON payment_records(invoice_id, created_at);

	CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		payment_model TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(invoice_id, payment_model)
	);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		actor_id TEXT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		tenant_id TEXT,
		metadata_json TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_entity
		ON audit_events(entity_type, entity_id, timestamp);
	`

// migrate creates the database schema.
func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxRepository)
// =============================================================================

// WithTx runs fn inside a database transaction. The transaction commits
// only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// Reset deletes all data. Used by the demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	// Children first so foreign keys stay satisfied.
	for _, table := range []string{
		"audit_events", "workflow_runs", "payment_records",
		"margin_overrides", "margin_records", "invoices", "contracts",
	} {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storeErr("reset "+table, err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout keeps a fixed-width fraction so stored timestamps sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseMoney(s string, currency billing.Currency) (billing.Money, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return billing.Money{}, err
	}
	return billing.NewMoney(d, currency), nil
}

func constraintCode(err error) sqlite3.ErrNoExtended {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return sqliteErr.ExtendedCode
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	code := constraintCode(err)
	return code == sqlite3.ErrConstraintUnique || code == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	return constraintCode(err) == sqlite3.ErrConstraintForeignKey
}

func storeErr(op string, err error) error {
	return &billing.ExternalServiceError{Op: "sqlite: " + op, Err: err}
}
