package domain

import "time"

// TokenUsageRecord is one append-only entry in the usage log. Records are
// never mutated after creation; the meter derives rolling counters from them.
type TokenUsageRecord struct {
	ID               string
	UserID           string
	PromptTokens     int
	CompletionTokens int
	Model            string
	CostEstimate     float64
	CreatedAt        time.Time
}

// TotalTokens returns prompt plus completion tokens.
func (r *TokenUsageRecord) TotalTokens() int64 {
	return int64(r.PromptTokens) + int64(r.CompletionTokens)
}

// QuotaStatus reports a user's position against the configured ceilings.
type QuotaStatus struct {
	DailyUsed    int64
	DailyLimit   int64
	MonthlyUsed  int64
	MonthlyLimit int64
	ResetAt      time.Time
}

// Remaining returns the tightest remaining token budget across windows.
func (q QuotaStatus) Remaining() int64 {
	daily := q.DailyLimit - q.DailyUsed
	monthly := q.MonthlyLimit - q.MonthlyUsed
	if daily < 0 {
		daily = 0
	}
	if monthly < 0 {
		monthly = 0
	}
	if monthly < daily {
		return monthly
	}
	return daily
}
