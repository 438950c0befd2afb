package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"
)

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can be
// shared between the plain and the *Tx variants of each method.
type querier interface {
    ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
    Scan(dest ...any) error
}

// inClause builds "(?, ?, ?)" for n values.
func inClause(n int) string {
    return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// notFound maps sql.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
    if errors.Is(err, sql.ErrNoRows) {
        return ErrNotFound
    }
    return err
}

// affected reports whether a guarded UPDATE changed a row.
func affected(res sql.Result) (bool, error) {
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n > 0, nil
}

func nullString(s *string) any {
    if s == nil {
        return nil
    }
    return *s
}

func stringPtr(ns sql.NullString) *string {
    if !ns.Valid {
        return nil
    }
    v := ns.String
    return &v
}
