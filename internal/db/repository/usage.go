// Package repository implements metastore persistence for the usage log and
// query history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"askdb/internal/domain"
)

// UsageRepo persists append-only token usage records in the metastore.
type UsageRepo struct {
	db *sql.DB
}

// NewUsageRepo creates a UsageRepo over the metastore write pool.
func NewUsageRepo(conn *sql.DB) *UsageRepo {
	return &UsageRepo{db: conn}
}

// Insert appends one usage record. A missing ID or timestamp is filled in;
// existing records are never updated.
func (r *UsageRepo) Insert(ctx context.Context, rec *domain.TokenUsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_usage (id, user_id, prompt_tokens, completion_tokens, model, cost_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.PromptTokens, rec.CompletionTokens, rec.Model, rec.CostEstimate, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}
	return nil
}

// SumTokensSince returns the user's total prompt+completion tokens recorded
// at or after the given instant.
func (r *UsageRepo) SumTokensSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(prompt_tokens + completion_tokens)
		FROM token_usage
		WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum token usage: %w", err)
	}
	return total.Int64, nil
}

// DeleteOlderThan prunes records outside every rolling window. Returns the
// number of rows removed.
func (r *UsageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM token_usage WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune token usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
