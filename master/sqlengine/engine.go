// Package sqlengine stores master records in PostgreSQL or SQLite.
//
// Every record is one row of <prefix>_document keyed by (scheme, object_value, version). Instants are
// stored as Unix nanoseconds, open interval ends as NULL. Mutations of one object run in a
// transaction that first locks the object's row in <prefix>_object; on PostgreSQL with
// SELECT ... FOR UPDATE, on SQLite through the single writer connection.
//
// Supported database handles:
//   - *pgxpool.Pool (NewFromPGXPool, optionally with a read replica)
//   - *sql.DB with lib/pq (NewFromSQLDB)
//   - *sqlx.DB (NewFromSQLX)
//   - SQLite via mattn/go-sqlite3 (OpenSQLite, NewFromSQLiteDB)
package sqlengine

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/sqlengine/internal/adapters"
)

const (
	defaultTablePrefix = "master"

	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"

	logMsgBuildQueryFailed    = "failed to build query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgSQLExecuted         = "executed sql for: "
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrDurationMS         = "duration_ms"
	logAttrObjectID           = "object_id"
	logAttrUniqueID           = "unique_id"
)

//go:embed schema/*.sql
var schemaFiles embed.FS

// ErrNilDatabaseConnection is returned when a constructor receives a nil handle.
var ErrNilDatabaseConnection = fmt.Errorf("%w: database connection must not be nil", master.ErrInvalidArgument)

// ErrInvalidTablePrefix is returned by WithTablePrefix for prefixes that are not plain identifiers.
var ErrInvalidTablePrefix = fmt.Errorf("%w: table prefix must be a non-empty identifier", master.ErrInvalidArgument)

// Logger interface for SQL query logging, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Engine implements master.DocumentStorage and master.PointStorage on a SQL database.
type Engine struct {
	db       adapters.DBAdapter
	builder  goqu.DialectWrapper
	dialect  string
	prefix   string
	supplier master.ObjectIDSupplier
	logger   Logger
	closer   func() error
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithTablePrefix sets the prefix of all table names. It defaults to "master".
func WithTablePrefix(prefix string) Option {
	return func(e *Engine) error {
		if !isIdentifier(prefix) {
			return ErrInvalidTablePrefix
		}

		e.prefix = prefix

		return nil
	}
}

// WithLogger sets the logger for the Engine.
//
// Debug level: SQL statements with execution timing
// Info level: detected concurrency conflicts
// Warn level: cleanup failures like rows that could not be closed
// Error level: failed statements.
func WithLogger(logger Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithObjectIDSupplier replaces the sequence table as the source of new ObjectIDs.
func WithObjectIDSupplier(supplier master.ObjectIDSupplier) Option {
	return func(e *Engine) error {
		if supplier == nil {
			return fmt.Errorf("%w: object id supplier must not be nil", master.ErrInvalidArgument)
		}

		e.supplier = supplier

		return nil
	}
}

func newEngine(db adapters.DBAdapter, dialect string, options []Option) (*Engine, error) {
	e := &Engine{
		db:      db,
		builder: goqu.Dialect(dialect),
		dialect: dialect,
		prefix:  defaultTablePrefix,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// NewFromPGXPool creates an Engine on a pgx pool.
func NewFromPGXPool(db *pgxpool.Pool, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), dialectPostgres, options)
}

// NewFromPGXPoolAndReplica creates an Engine that sends reads outside transactions to replica.
// Reads inside mutations always use the primary.
func NewFromPGXPoolAndReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*Engine, error) {
	if db == nil || replica == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapterWithReplica(db, replica), dialectPostgres, options)
}

// NewFromSQLDB creates an Engine on a PostgreSQL sql.DB, for example opened with lib/pq.
func NewFromSQLDB(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), dialectPostgres, options)
}

// NewFromSQLX creates an Engine on a PostgreSQL sqlx.DB.
func NewFromSQLX(db *sqlx.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), dialectPostgres, options)
}

// NewFromSQLiteDB creates an Engine on a SQLite sql.DB. The handle should allow a single open connection.
func NewFromSQLiteDB(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), dialectSQLite, options)
}

// OpenSQLite opens or creates the SQLite database at path, applies the pragmas and the schema.
// The returned Engine owns the handle; release it with Close.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - one open connection, which makes it the single writer
func OpenSQLite(ctx context.Context, path string, options ...Option) (*Engine, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, master.Unavailable(errors.New("opening sqlite database failed"), err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	e, err := NewFromSQLiteDB(db, options...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e.closer = db.Close

	if err := e.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return e, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return master.Unavailable(fmt.Errorf("executing %q failed", pragma), err)
		}
	}

	return nil
}

// Close releases a database handle opened by OpenSQLite. Handles passed in by the caller stay open.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}

	return e.closer()
}

// Migrate creates the tables and indexes if they do not exist.
func (e *Engine) Migrate(ctx context.Context) error {
	schema, err := schemaFiles.ReadFile("schema/" + e.schemaFile())
	if err != nil {
		return master.Unavailable(master.ErrMigratingSchemaFailed, err)
	}

	for _, statement := range strings.Split(string(schema), ";") {
		statement = strings.TrimSpace(strings.ReplaceAll(statement, "{{prefix}}", e.prefix))
		if statement == "" {
			continue
		}

		if _, err := e.exec(ctx, e.db, "migrate", statement); err != nil {
			return master.Unavailable(master.ErrMigratingSchemaFailed, err)
		}
	}

	return nil
}

func (e *Engine) schemaFile() string {
	if e.dialect == dialectSQLite {
		return "sqlite.sql"
	}

	return "postgres.sql"
}

func (e *Engine) table(name string) string {
	return e.prefix + "_" + name
}

// inTx runs fn in a transaction, committing when fn succeeds and rolling back otherwise.
// fn reports commit=false to roll back without an error.
func (e *Engine) inTx(ctx context.Context, fn func(tx adapters.DBTx) (commit bool, err error)) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return master.Unavailable(master.ErrBeginningTxFailed, err)
	}

	commit, err := fn(tx)
	if err != nil || !commit {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && e.logger != nil {
			e.logger.Warn(logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}

		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return master.Unavailable(master.ErrCommittingTxFailed, err)
	}

	return nil
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (e *Engine) build(statement sqlBuilder) (string, []any, error) {
	query, args, err := statement.ToSQL()
	if err != nil {
		if e.logger != nil {
			e.logger.Error(logMsgBuildQueryFailed, logAttrError, err.Error())
		}

		return "", nil, errors.Join(master.ErrBuildingQueryFailed, err)
	}

	return query, args, nil
}

func (e *Engine) query(ctx context.Context, q adapters.Querier, action string, statement sqlBuilder) (adapters.DBRows, error) {
	query, args, err := e.build(statement)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := q.Query(ctx, query, args...)
	e.logQueryWithDuration(query, action, time.Since(start))

	if err != nil {
		if e.logger != nil {
			e.logger.Error(logMsgDBQueryFailed, logAttrError, err.Error(), logAttrQuery, query)
		}

		return nil, master.Unavailable(master.ErrQueryingRecordsFailed, err)
	}

	return rows, nil
}

func (e *Engine) execBuilt(ctx context.Context, q adapters.Querier, action string, statement sqlBuilder) (int64, error) {
	query, args, err := e.build(statement)
	if err != nil {
		return 0, err
	}

	return e.exec(ctx, q, action, query, args...)
}

func (e *Engine) exec(ctx context.Context, q adapters.Querier, action, query string, args ...any) (int64, error) {
	start := time.Now()
	result, err := q.Exec(ctx, query, args...)
	e.logQueryWithDuration(query, action, time.Since(start))

	if err != nil {
		if e.logger != nil {
			e.logger.Error(logMsgDBExecFailed, logAttrError, err.Error(), logAttrQuery, query)
		}

		return 0, err
	}

	return result.RowsAffected()
}

// closeRows safely closes database rows and logs any errors.
func (e *Engine) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil && e.logger != nil {
		e.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// logQueryWithDuration logs SQL queries with execution time at debug level if the logger is configured.
func (e *Engine) logQueryWithDuration(query, action string, duration time.Duration) {
	if e.logger != nil {
		e.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, query)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func nullableNanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UnixNano()
}

func instant(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableInstant(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}

	return instant(n.Int64)
}
