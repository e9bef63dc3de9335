package domain

import (
	"context"
	"time"
)

// Completion is the provider's response to one text-completion call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer is the external text-completion service. Any provider
// implementing this contract is interchangeable.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (*Completion, error)
}

// Introspector captures a schema snapshot from a target connection.
// Implemented by schema.SQLIntrospector; the schema cache depends on this
// interface rather than a concrete driver.
type Introspector interface {
	Introspect(ctx context.Context, connectionID string) (*SchemaSnapshot, error)
}

// SchemaProvider serves cached schema snapshots to generation stages.
// Implemented by schema.Cache.
type SchemaProvider interface {
	Get(ctx context.Context, connectionID string) (*SchemaSnapshot, error)
	Invalidate(connectionID string)
}

// Executor runs already-validated SQL against a target connection.
// Two implementations exist: execute.LiveExecutor and execute.SimulatedExecutor,
// selected at construction time.
type Executor interface {
	Execute(ctx context.Context, connectionID, normalizedSQL string, maxRows int) (*ExecutionResult, error)
}

// AdmissionDecision is the token meter's answer to a pre-spend check.
type AdmissionDecision struct {
	Allowed bool
	Reason  string
	Quota   QuotaStatus
}

// TokenMeter gates generative calls and aggregates usage. CheckAdmission must
// be consulted before the external call is issued, never after.
type TokenMeter interface {
	CheckAdmission(ctx context.Context, userID string) (AdmissionDecision, error)
	Record(ctx context.Context, rec *TokenUsageRecord) error
}

// UsageRepository persists the append-only token usage log.
type UsageRepository interface {
	Insert(ctx context.Context, rec *TokenUsageRecord) error
	SumTokensSince(ctx context.Context, userID string, since time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// HistoryRepository persists per-request audit entries.
type HistoryRepository interface {
	Insert(ctx context.Context, entry *HistoryEntry) error
	List(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
}
