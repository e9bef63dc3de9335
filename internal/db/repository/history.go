package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"askdb/internal/domain"
)

// HistoryRepo persists per-request audit entries in the metastore.
type HistoryRepo struct {
	db *sql.DB
}

// NewHistoryRepo creates a HistoryRepo over the metastore write pool.
func NewHistoryRepo(conn *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: conn}
}

// Insert appends one history entry.
func (r *HistoryRepo) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO query_history
			(user_id, connection_id, question, sql_text, origin, status,
			 error_kind, error_message, violations, duration_ms, rows_returned, simulated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ConnectionID, e.Question, e.SQL, e.Origin, e.Status,
		e.ErrorKind, e.ErrorMessage, strings.Join(e.Violations, ","),
		e.DurationMs, e.RowsReturned, boolToInt(e.Simulated), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// List returns history entries matching the filter, newest first.
func (r *HistoryRepo) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.ConnectionID != nil {
		where = append(where, "connection_id = ?")
		args = append(args, *filter.ConnectionID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, *filter.To)
	}

	query := `
		SELECT id, user_id, connection_id, question, sql_text, origin, status,
		       error_kind, error_message, violations, duration_ms, rows_returned, simulated, created_at
		FROM query_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e          domain.HistoryEntry
			violations string
			simulated  int
		)
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.ConnectionID, &e.Question, &e.SQL, &e.Origin, &e.Status,
			&e.ErrorKind, &e.ErrorMessage, &violations, &e.DurationMs, &e.RowsReturned, &simulated, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		if violations != "" {
			e.Violations = strings.Split(violations, ",")
		}
		e.Simulated = simulated != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
