package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"askdb/internal/domain"
)

var _ domain.Completer = (*HTTPCompleter)(nil)
var _ domain.Completer = (*StubCompleter)(nil)

// HTTPCompleter talks to an OpenAI-compatible chat completions endpoint.
type HTTPCompleter struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPCompleter creates a client for the given base URL (the
// /chat/completions path is appended) and model.
func NewHTTPCompleter(apiURL, apiKey, model string, timeout time.Duration) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCompleter{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt as a single user message and returns the first
// choice together with the provider-reported token usage.
func (c *HTTPCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (*domain.Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("completion provider returned %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("completion response has no choices")
	}
	return &domain.Completion{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// StubCompleter is the offline fallback used when no completion provider is
// configured. It returns a fixed harmless statement so the pipeline still
// works end to end in development and simulation setups.
type StubCompleter struct{}

// NewStubCompleter creates the offline stub.
func NewStubCompleter() *StubCompleter { return &StubCompleter{} }

func (s *StubCompleter) Complete(_ context.Context, prompt string, _ int) (*domain.Completion, error) {
	text := "```sql\nSELECT 1\n```\nOffline stub response; configure COMPLETION_API_URL for real generation."
	return &domain.Completion{
		Text:             text,
		PromptTokens:     len(prompt) / charsPerToken,
		CompletionTokens: len(text) / charsPerToken,
	}, nil
}
