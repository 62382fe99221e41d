// Package execsql implements the database interface (spec §6): the
// deployment target is reached exclusively through a single required RPC,
// exec_sql(sql text) RETURNS json, which is the sole SQL-execution
// serialization point (spec §5).
//
// Grounded on other_examples' godfish postgres driver — Connect/Close
// lifecycle and a narrow typed-error style — adapted from database/sql+lib/pq
// to pgx/v5 (the dependency the rest of this module's stack carries for
// Postgres), and from "drive a generic migrations table" to "probe and call
// one RPC function."
package execsql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is exec_sql's decoded return value.
type Result struct {
	Success      bool   `json:"success"`
	RowsAffected int64  `json:"rows_affected"`
	Error        string `json:"error"`
}

// Error wraps a failed exec_sql call (or transaction step) with the
// operation's SQL for caller-side reporting.
type Error struct {
	SQL string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("exec_sql: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// DB wraps a pooled Postgres connection scoped to the migration phase.
type DB struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn. The caller owns the connection for the
// duration of the migration phase and must Close it afterward.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (d *DB) Close() { d.pool.Close() }

// HasExecSQLFunction probes for the exec_sql RPC's presence.
func (d *DB) HasExecSQLFunction(ctx context.Context) (bool, error) {
	const probe = `SELECT 1 FROM pg_proc WHERE proname = 'exec_sql'`
	var one int
	if err := d.pool.QueryRow(ctx, probe).Scan(&one); err != nil {
		return false, nil
	}
	return true, nil
}

// EnsureExecSQLFunction returns an actionable error if exec_sql is absent.
func (d *DB) EnsureExecSQLFunction(ctx context.Context) error {
	ok, err := d.HasExecSQLFunction(ctx)
	if err != nil {
		return fmt.Errorf("probe exec_sql: %w", err)
	}
	if !ok {
		return fmt.Errorf("exec_sql(sql text) RETURNS json is not present in the target database; install it before deploying")
	}
	return nil
}

// Exec calls exec_sql(sql) outside of any transaction and decodes its json
// result.
func (d *DB) Exec(ctx context.Context, sql string) (Result, error) {
	return decodeExecSQL(d.pool.QueryRow(ctx, `SELECT exec_sql($1)`, sql), sql)
}

// row is the subset of pgx.Row / pgx.Tx's query-row result that decodeExecSQL
// needs, satisfied by both *pgxpool.Pool and pgx.Tx query-row results.
type row interface {
	Scan(dest ...interface{}) error
}

func decodeExecSQL(r row, sql string) (Result, error) {
	var raw []byte
	if err := r.Scan(&raw); err != nil {
		return Result{}, &Error{SQL: sql, Err: err}
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, &Error{SQL: sql, Err: fmt.Errorf("decode exec_sql result: %w", err)}
	}
	if !res.Success {
		return res, &Error{SQL: sql, Err: fmt.Errorf("exec_sql reported failure: %s", res.Error)}
	}
	return res, nil
}

// Tx is an open migration transaction. Operations execute strictly in the
// order the caller issues them; a failure stops the caller from issuing any
// more (spec §5: "failure of operation i prevents operations i+1…n").
type Tx struct {
	tx pgx.Tx
}

// Begin opens a transaction. The caller must Commit or Rollback.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Exec calls exec_sql(sql) within the transaction.
func (t *Tx) Exec(ctx context.Context, sql string) (Result, error) {
	return decodeExecSQL(t.tx.QueryRow(ctx, `SELECT exec_sql($1)`, sql), sql)
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

// Rollback aborts the transaction.
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
