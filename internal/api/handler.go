// Package api provides the HTTP surface over the query pipeline.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"askdb/internal/domain"
	"askdb/internal/middleware"
)

// ConnectionLister enumerates the registered target connections.
// Implemented by db.ConnectionRegistry.
type ConnectionLister interface {
	IDs() []string
}

// QuotaReader reports a user's token budget position.
// Implemented by meter.Meter.
type QuotaReader interface {
	Quota(ctx context.Context, userID string) (domain.QuotaStatus, error)
}

// Answerer is the pipeline entrypoint the API dispatches to.
// Implemented by pipeline.Pipeline.
type Answerer interface {
	Answer(ctx context.Context, question, connectionID, userID string) (*domain.QueryOutcome, error)
}

// Handler serves the REST API.
type Handler struct {
	pipeline Answerer
	history  domain.HistoryRepository
	schemas  domain.SchemaProvider
	conns    ConnectionLister
	quotas   QuotaReader
	logger   *slog.Logger
}

// NewHandler creates a Handler over the pipeline and its supporting stores.
func NewHandler(pipeline Answerer, history domain.HistoryRepository, schemas domain.SchemaProvider, conns ConnectionLister, quotas QuotaReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline: pipeline,
		history:  history,
		schemas:  schemas,
		conns:    conns,
		quotas:   quotas,
		logger:   logger,
	}
}

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID", "X-Request-ID"},
		MaxAge:         300,
	}))
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		}))
	}

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", h.query)
		r.Get("/history", h.listHistory)
		r.Get("/quota", h.quota)
		r.Get("/connections", h.listConnections)
		r.Post("/connections/{connectionID}/schema/refresh", h.refreshSchema)
	})
	return r
}

type queryRequest struct {
	Question     string `json:"question"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	start := time.Now()
	outcome, err := h.pipeline.Answer(r.Context(), req.Question, req.ConnectionID, req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("question answered",
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"user_id", req.UserID,
		"connection_id", req.ConnectionID,
		"origin", outcome.Origin,
		"rows", outcome.RowCount,
		"error_kind", errorKind(outcome),
		"duration", time.Since(start))

	writeJSON(w, statusForOutcome(outcome), outcome)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "query history is disabled")
		return
	}

	filter := domain.HistoryFilter{Limit: 50}
	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := q.Get("connection_id"); v != "" {
		filter.ConnectionID = &v
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	entries, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("listing history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": historyItems(entries)})
}

func (h *Handler) quota(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	status, err := h.quotas.Quota(r.Context(), userID)
	if err != nil {
		h.logger.Error("reading quota failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "reading quota failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       userID,
		"daily_used":    status.DailyUsed,
		"daily_limit":   status.DailyLimit,
		"monthly_used":  status.MonthlyUsed,
		"monthly_limit": status.MonthlyLimit,
		"remaining":     status.Remaining(),
		"reset_at":      status.ResetAt,
	})
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if h.conns != nil {
		ids = h.conns.IDs()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": ids})
}

func (h *Handler) refreshSchema(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")
	if connectionID == "" {
		writeError(w, http.StatusBadRequest, "connection id is required")
		return
	}
	h.schemas.Invalidate(connectionID)
	h.logger.Info("schema invalidated",
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"connection_id", connectionID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func errorKind(outcome *domain.QueryOutcome) string {
	if outcome.Error == nil {
		return ""
	}
	return outcome.Error.Kind
}
