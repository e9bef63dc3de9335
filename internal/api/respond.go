package api

import (
	"encoding/json"
	"net/http"
	"time"

	"askdb/internal/domain"
)

// statusForOutcome maps the outcome's error kind onto an HTTP status. The
// outcome body is returned either way, so clients always see the SQL and
// violation detail alongside the status.
func statusForOutcome(outcome *domain.QueryOutcome) int {
	if outcome.Error == nil {
		return http.StatusOK
	}
	switch outcome.Error.Kind {
	case domain.KindValidationRejected:
		return http.StatusUnprocessableEntity
	case domain.KindSchemaUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindGenerationUnavailable, domain.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.KindGenerationFailed:
		return http.StatusBadGateway
	case domain.KindExecutionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}

// historyItem is the JSON shape of one audit entry.
type historyItem struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	Question     string    `json:"question"`
	SQL          *string   `json:"sql,omitempty"`
	Origin       *string   `json:"origin,omitempty"`
	Status       string    `json:"status"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	Violations   []string  `json:"violations,omitempty"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	RowsReturned *int64    `json:"rows_returned,omitempty"`
	Simulated    bool      `json:"simulated"`
	CreatedAt    time.Time `json:"created_at"`
}

func historyItems(entries []domain.HistoryEntry) []historyItem {
	items := make([]historyItem, len(entries))
	for i, e := range entries {
		items[i] = historyItem{
			ID:           e.ID,
			UserID:       e.UserID,
			ConnectionID: e.ConnectionID,
			Question:     e.Question,
			SQL:          e.SQL,
			Origin:       e.Origin,
			Status:       e.Status,
			ErrorKind:    e.ErrorKind,
			ErrorMessage: e.ErrorMessage,
			Violations:   e.Violations,
			DurationMs:   e.DurationMs,
			RowsReturned: e.RowsReturned,
			Simulated:    e.Simulated,
			CreatedAt:    e.CreatedAt,
		}
	}
	return items
}
