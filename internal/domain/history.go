package domain

import "time"

// HistoryEntry records one pipeline request in the audit log, including
// rejections (which keep the normalized SQL and violation category even
// though execution never happened).
type HistoryEntry struct {
	ID           int64
	UserID       string
	ConnectionID string
	Question     string
	SQL          *string
	Origin       *string
	Status       string
	ErrorKind    *string
	ErrorMessage *string
	Violations   []string
	DurationMs   *int64
	RowsReturned *int64
	Simulated    bool
	CreatedAt    time.Time
}

// History entry statuses.
const (
	HistoryStatusOK       = "OK"
	HistoryStatusRejected = "REJECTED"
	HistoryStatusError    = "ERROR"
)

// HistoryFilter holds filter parameters for listing history entries.
type HistoryFilter struct {
	UserID       *string
	ConnectionID *string
	Status       *string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}
