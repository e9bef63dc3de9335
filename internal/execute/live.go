// Package execute runs validated read-only SQL against target connections.
// Two executors implement the same contract: LiveExecutor dispatches to a
// real database, SimulatedExecutor synthesizes deterministic results so the
// pipeline runs without a live target.
package execute

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"askdb/internal/domain"
	"askdb/internal/sqlsafe"
)

// Execution defaults.
const (
	DefaultTimeout = 15 * time.Second
	DefaultMaxRows = 1000
)

// ConnProvider resolves a connection id to an open database.
// Implemented by db.ConnectionRegistry.
type ConnProvider interface {
	Conn(connectionID string) (*sql.DB, bool)
}

// LiveExecutor runs SQL against the registered connection pools. Pool sizes
// are bounded at registration time; callers block for a free connection up
// to the execution timeout rather than opening unbounded connections.
type LiveExecutor struct {
	conns   ConnProvider
	timeout time.Duration
	logger  *slog.Logger
}

// NewLiveExecutor creates a LiveExecutor with the given per-query timeout.
func NewLiveExecutor(conns ConnProvider, timeout time.Duration, logger *slog.Logger) *LiveExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveExecutor{conns: conns, timeout: timeout, logger: logger}
}

// Execute dispatches the statement and materializes up to maxRows rows.
// The statement-kind check runs again immediately before dispatch: the
// executor never trusts that validation already happened.
func (e *LiveExecutor) Execute(ctx context.Context, connectionID, normalizedSQL string, maxRows int) (*domain.ExecutionResult, error) {
	if !sqlsafe.IsReadOnlyStatement(normalizedSQL) {
		return nil, &domain.ExecutionDeniedError{SQL: normalizedSQL}
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	conn, ok := e.conns.Conn(connectionID)
	if !ok {
		return nil, domain.ErrExecutionFailed(normalizedSQL, "unknown connection %q", connectionID)
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := conn.QueryContext(queryCtx, normalizedSQL)
	if err != nil {
		return nil, e.classify(queryCtx, normalizedSQL, err)
	}
	defer rows.Close() //nolint:errcheck

	result, err := e.collect(rows, maxRows)
	if err != nil {
		return nil, e.classify(queryCtx, normalizedSQL, err)
	}
	result.Duration = time.Since(start)

	e.logger.Debug("query executed",
		"connection_id", connectionID,
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"duration", result.Duration)
	return result, nil
}

// collect scans up to maxRows rows, probing one row further to set the
// truncation flag without materializing the remainder.
func (e *LiveExecutor) collect(rows *sql.Rows, maxRows int) (*domain.ExecutionResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{Columns: columns}
	for rows.Next() {
		if result.RowCount >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// classify maps a driver failure onto the error taxonomy.
func (e *LiveExecutor) classify(ctx context.Context, sqlText string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.ExecutionTimeoutError{SQL: sqlText, Timeout: e.timeout}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.ErrExecutionFailed(sqlText, "query failed: %v", err)
}
