package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXAdapter implements DBAdapter for sqlx.DB.
type SQLXAdapter struct {
	db *sqlx.DB
}

// NewSQLXAdapter creates a new SQLX adapter.
func NewSQLXAdapter(db *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{db: db}
}

func (s *SQLXAdapter) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &sqlxRows{rows: rows}, nil
}

func (s *SQLXAdapter) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *SQLXAdapter) BeginTx(ctx context.Context) (DBTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &sqlxTx{tx: tx}, nil
}

type sqlxTx struct {
	tx *sqlx.Tx
}

func (t *sqlxTx) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	rows, err := t.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &sqlxRows{rows: rows}, nil
}

func (t *sqlxTx) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (t *sqlxTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqlxTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

type sqlxRows struct {
	rows *sqlx.Rows
}

func (s *sqlxRows) Next() bool {
	return s.rows.Next()
}

func (s *sqlxRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *sqlxRows) Err() error {
	return s.rows.Err()
}

func (s *sqlxRows) Close() error {
	return s.rows.Close()
}
