package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCompleter_Complete(t *testing.T) {
	t.Parallel()

	var gotAuth, gotPath string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "```sql\nSELECT COUNT(*) FROM customers\n```"}},
			},
			"usage": map[string]int{"prompt_tokens": 120, "completion_tokens": 18},
		})
	}))
	defer srv.Close()

	c := NewHTTPCompleter(srv.URL, "secret", "gpt-4o-mini", 5*time.Second)
	completion, err := c.Complete(context.Background(), "How many customers are there?", 700)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, 700, gotReq.MaxTokens)

	assert.Contains(t, completion.Text, "SELECT COUNT(*) FROM customers")
	assert.Equal(t, 120, completion.PromptTokens)
	assert.Equal(t, 18, completion.CompletionTokens)
}

func TestHTTPCompleter_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPCompleter(srv.URL, "", "gpt-4o-mini", 5*time.Second)
	_, err := c.Complete(context.Background(), "q", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPCompleter_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	c := NewHTTPCompleter(srv.URL, "", "gpt-4o-mini", 5*time.Second)
	_, err := c.Complete(context.Background(), "q", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestStubCompleter(t *testing.T) {
	t.Parallel()

	stub := NewStubCompleter()
	completion, err := stub.Complete(context.Background(), "anything at all", 100)
	require.NoError(t, err)

	sqlText, _, err := extractStatement(completion.Text)
	require.NoError(t, err, "stub output must survive the extractor")
	assert.Equal(t, "SELECT 1", sqlText)
	assert.Greater(t, completion.PromptTokens, 0)
}
