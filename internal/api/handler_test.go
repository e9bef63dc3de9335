package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdb/internal/domain"
)

// === stubs ===

type stubAnswerer struct {
	outcome  *domain.QueryOutcome
	err      error
	question string
	connID   string
	userID   string
}

func (s *stubAnswerer) Answer(_ context.Context, question, connectionID, userID string) (*domain.QueryOutcome, error) {
	s.question, s.connID, s.userID = question, connectionID, userID
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

type stubHistory struct {
	entries []domain.HistoryEntry
	filter  domain.HistoryFilter
}

func (s *stubHistory) Insert(context.Context, *domain.HistoryEntry) error { return nil }

func (s *stubHistory) List(_ context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	s.filter = filter
	return s.entries, nil
}

type stubSchemas struct {
	invalidated []string
}

func (s *stubSchemas) Get(context.Context, string) (*domain.SchemaSnapshot, error) {
	return nil, nil
}

func (s *stubSchemas) Invalidate(connectionID string) {
	s.invalidated = append(s.invalidated, connectionID)
}

type stubConns struct{ ids []string }

func (s *stubConns) IDs() []string { return s.ids }

type stubQuotas struct{ status domain.QuotaStatus }

func (s *stubQuotas) Quota(context.Context, string) (domain.QuotaStatus, error) {
	return s.status, nil
}

type fixture struct {
	answerer *stubAnswerer
	history  *stubHistory
	schemas  *stubSchemas
	server   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		answerer: &stubAnswerer{outcome: &domain.QueryOutcome{
			SQL:      "SELECT COUNT(*) FROM customers",
			Origin:   domain.OriginPattern,
			Rows:     []map[string]interface{}{{"count": 100}},
			RowCount: 1,
		}},
		history: &stubHistory{},
		schemas: &stubSchemas{},
	}
	h := NewHandler(f.answerer, f.history, f.schemas, &stubConns{ids: []string{"demo"}},
		&stubQuotas{status: domain.QuotaStatus{DailyUsed: 100, DailyLimit: 1000}}, nil)
	f.server = h.Router(RouterConfig{CORSAllowedOrigins: []string{"*"}})
	return f
}

func postQuery(t *testing.T, server http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

// === /v1/query ===

func TestQuery_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := postQuery(t, f.server, `{"question":"How many customers are there?","connection_id":"demo","user_id":"alice"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.QueryOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "SELECT COUNT(*) FROM customers", got.SQL)
	assert.Equal(t, 1, got.RowCount)

	assert.Equal(t, "How many customers are there?", f.answerer.question)
	assert.Equal(t, "demo", f.answerer.connID)
	assert.Equal(t, "alice", f.answerer.userID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestQuery_UserIDFromHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := postQuery(t, f.server, `{"question":"q","connection_id":"demo"}`,
		map[string]string{"X-User-ID": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", f.answerer.userID)
}

func TestQuery_AnonymousFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := postQuery(t, f.server, `{"question":"q","connection_id":"demo"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", f.answerer.userID)
}

func TestQuery_BadJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := postQuery(t, f.server, `{"question":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_InputValidationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.answerer.err = domain.ErrValidation("question must not be empty")
	rec := postQuery(t, f.server, `{"question":"","connection_id":"demo"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "question must not be empty")
}

func TestQuery_OutcomeErrorStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind string
		want int
	}{
		{domain.KindValidationRejected, http.StatusUnprocessableEntity},
		{domain.KindSchemaUnavailable, http.StatusServiceUnavailable},
		{domain.KindGenerationUnavailable, http.StatusTooManyRequests},
		{domain.KindGenerationFailed, http.StatusBadGateway},
		{domain.KindExecutionTimeout, http.StatusGatewayTimeout},
		{domain.KindExecutionError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.answerer.outcome = &domain.QueryOutcome{
				SQL:   "DELETE FROM orders",
				Error: &domain.OutcomeError{Kind: tt.kind, Message: "rejected"},
			}
			rec := postQuery(t, f.server, `{"question":"q","connection_id":"demo"}`, nil)
			assert.Equal(t, tt.want, rec.Code)

			var got domain.QueryOutcome
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.kind, got.Error.Kind)
			assert.Equal(t, "DELETE FROM orders", got.SQL, "body must carry the SQL for transparency")
		})
	}
}

// === /v1/history ===

func TestHistory_List(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sqlText := "SELECT COUNT(*) FROM customers"
	f.history.entries = []domain.HistoryEntry{{
		ID: 1, UserID: "alice", ConnectionID: "demo",
		Question: "How many customers are there?",
		SQL:      &sqlText, Status: domain.HistoryStatusOK,
		CreatedAt: time.Now(),
	}}

	req := httptest.NewRequest(http.MethodGet, "/v1/history?user_id=alice&limit=10", nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, f.history.filter.UserID)
	assert.Equal(t, "alice", *f.history.filter.UserID)
	assert.Equal(t, 10, f.history.filter.Limit)

	var body struct {
		Entries []historyItem `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "alice", body.Entries[0].UserID)
}

// === /v1/quota ===

func TestQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/quota?user_id=alice", nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"daily_used":100`)

	req = httptest.NewRequest(http.MethodGet, "/v1/quota", nil)
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// === /v1/connections ===

func TestConnections_ListAndRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"demo"`)

	req = httptest.NewRequest(http.MethodPost, "/v1/connections/demo/schema/refresh", nil)
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"demo"}, f.schemas.invalidated)
}

// === /healthz ===

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
