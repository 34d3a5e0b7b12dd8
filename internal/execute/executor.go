// Package execute runs validated SELECT statements against the target
// database under a read-only transaction, a server-side statement timeout,
// and a hard row cap.
package execute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTimeout reports that the statement exceeded its execution deadline,
// whether cancelled client-side or by the server statement_timeout.
var ErrTimeout = errors.New("execute: statement timed out")

// QueryError carries a sanitized database failure. Raw driver messages can
// leak connection details and are never surfaced to callers.
type QueryError struct {
	Code   string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("execute: %s", e.Reason)
}

type Request struct {
	SQL     string
	MaxRows int
	Timeout time.Duration
}

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

const (
	DefaultMaxRows = 200
	DefaultTimeout = 15 * time.Second
)

// Executor owns the target database pool. Validation happens upstream; the
// read-only transaction is the independent second line of defense.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	maxRows := req.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return Result{}, sanitize(err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, sanitize(err)
	}
	// Rollback releases the session even on the happy path; a SELECT has
	// nothing to commit.
	defer func() { _ = tx.Rollback() }()

	// SET LOCAL scopes the timeout to this transaction so the pooled
	// session is returned clean.
	timeoutMS := timeout.Milliseconds()
	if timeoutMS < 1 {
		timeoutMS = 1
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutMS)); err != nil {
		return Result{}, sanitize(err)
	}

	rows, err := tx.QueryContext(ctx, req.SQL)
	if err != nil {
		return Result{}, sanitize(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, sanitize(err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0, maxRows)}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			// One row past the cap proves there was more.
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, sanitize(err)
		}
		result.Rows = append(result.Rows, normalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, sanitize(err)
	}

	result.Duration = time.Since(started)
	return result, nil
}

// normalizeRow converts driver values into JSON-friendly shapes.
func normalizeRow(values []any) []any {
	for i, value := range values {
		switch v := value.(type) {
		case []byte:
			values[i] = string(v)
		case time.Time:
			values[i] = v.UTC().Format(time.RFC3339Nano)
		}
	}
	return values
}

// sanitize maps driver errors onto the public taxonomy: timeouts become
// ErrTimeout, everything else a QueryError with a generic reason keyed by
// the SQLSTATE class.
func sanitize(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled, raised by statement_timeout
			return ErrTimeout
		case pgErr.Code == "25006" || (pgErr.Code == "0A000" && strings.Contains(strings.ToLower(pgErr.Message), "read-only")):
			return &QueryError{Code: pgErr.Code, Reason: "statement attempted a write in a read-only transaction"}
		case strings.HasPrefix(pgErr.Code, "42"):
			return &QueryError{Code: pgErr.Code, Reason: "statement was rejected by the database planner"}
		case strings.HasPrefix(pgErr.Code, "53"):
			return &QueryError{Code: pgErr.Code, Reason: "database resources exhausted"}
		case strings.HasPrefix(pgErr.Code, "57"):
			return &QueryError{Code: pgErr.Code, Reason: "statement was cancelled by the database"}
		default:
			return &QueryError{Code: pgErr.Code, Reason: "database rejected the statement"}
		}
	}

	if errors.Is(err, context.Canceled) {
		return &QueryError{Reason: "request cancelled"}
	}
	return &QueryError{Reason: "query execution failed"}
}
