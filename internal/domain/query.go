package domain

import "time"

// QueryOrigin identifies which generation tier produced the SQL.
type QueryOrigin string

// Generation tiers.
const (
	OriginPattern    QueryOrigin = "pattern"
	OriginGenerative QueryOrigin = "generative"
)

// TokenUsage holds provider-reported token counts for one completion call.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostEstimate     float64 `json:"cost_estimate"`
}

// GeneratedQuery is the immutable product of one generation attempt.
// It references the schema snapshot (by hash) used to build its context.
type GeneratedQuery struct {
	SQL         string
	Origin      QueryOrigin
	Confidence  float64
	Explanation string
	SchemaHash  string
	Usage       *TokenUsage
}

// ViolationKind categorises a safety validator rejection.
type ViolationKind string

// Violation categories, ordered by the validator's check sequence.
const (
	ViolationStatementKind     ViolationKind = "disallowed_statement_kind"
	ViolationDeniedToken       ViolationKind = "denylisted_token"
	ViolationUnknownIdentifier ViolationKind = "unknown_identifier"
	ViolationTooComplex        ViolationKind = "complexity_exceeded"
)

// ValidationVerdict is the pure output of the safety validator. NormalizedSQL
// is always populated, even for rejected input, so audit records can carry it.
type ValidationVerdict struct {
	Allowed       bool
	Violations    []ViolationKind
	NormalizedSQL string
}

// ExecutionResult holds the rows produced by one execution. It is owned
// transiently by the pipeline; the result cache stores copies, never the
// raw value handed to callers.
type ExecutionResult struct {
	Columns   []string
	Rows      [][]interface{}
	RowCount  int
	Duration  time.Duration
	Truncated bool
	Simulated bool
}

// Clone returns a deep copy. The result cache hands out clones so concurrent
// requests never share row slices.
func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	out := &ExecutionResult{
		Columns:   append([]string(nil), r.Columns...),
		RowCount:  r.RowCount,
		Duration:  r.Duration,
		Truncated: r.Truncated,
		Simulated: r.Simulated,
	}
	out.Rows = make([][]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		out.Rows[i] = append([]interface{}(nil), row...)
	}
	return out
}

// RowMaps converts positional rows into ordered column→value mappings for the
// external response shape.
func (r *ExecutionResult) RowMaps() []map[string]interface{} {
	maps := make([]map[string]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]interface{}, len(r.Columns))
		for j, col := range r.Columns {
			if j < len(row) {
				m[col] = row[j]
			}
		}
		maps[i] = m
	}
	return maps
}

// OutcomeError is the serializable error surface of a QueryOutcome.
type OutcomeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// QueryOutcome is the public result of one Answer call, consumed by the
// web/API layer.
type QueryOutcome struct {
	SQL             string                   `json:"sql"`
	Origin          QueryOrigin              `json:"origin,omitempty"`
	Explanation     string                   `json:"explanation,omitempty"`
	Rows            []map[string]interface{} `json:"rows"`
	RowCount        int                      `json:"row_count"`
	Truncated       bool                     `json:"truncated"`
	ExecutionTimeMs float64                  `json:"execution_time_ms"`
	Simulated       bool                     `json:"simulated"`
	TokenUsage      *TokenUsage              `json:"token_usage,omitempty"`
	Error           *OutcomeError            `json:"error,omitempty"`
}
