// Package generate produces SQL from free-form questions via the external
// text-completion provider, gated by the token meter.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"askdb/internal/domain"
)

// Generator defaults.
const (
	DefaultMaxCompletionTokens = 700
	DefaultContextTokenBudget  = 1500
	DefaultConfidence          = 0.6
)

// Options tunes the generator.
type Options struct {
	// Model is the provider model identifier stamped onto usage records.
	Model string
	// MaxCompletionTokens bounds each completion call.
	MaxCompletionTokens int
	// ContextTokenBudget bounds the schema description inside the prompt.
	ContextTokenBudget int
	// PromptCostPer1K and CompletionCostPer1K feed the usage cost estimate.
	PromptCostPer1K     float64
	CompletionCostPer1K float64
}

func (o *Options) withDefaults() {
	if o.MaxCompletionTokens <= 0 {
		o.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if o.ContextTokenBudget <= 0 {
		o.ContextTokenBudget = DefaultContextTokenBudget
	}
	if o.Model == "" {
		o.Model = "unknown"
	}
}

// Generator is the fallback tier behind the pattern matcher. Every call is
// admission-checked before the provider is contacted, and every provider
// response, including unusable ones, is metered.
type Generator struct {
	completer domain.Completer
	meter     domain.TokenMeter
	opts      Options
	logger    *slog.Logger
}

// New creates a Generator.
func New(completer domain.Completer, meter domain.TokenMeter, opts Options, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	opts.withDefaults()
	return &Generator{completer: completer, meter: meter, opts: opts, logger: logger}
}

// Generate asks the provider for a single read-only SQL statement answering
// the question over the given schema. Returns GenerationUnavailableError when
// the meter denies admission and GenerationFailedError when the provider
// errors or its output cannot be reduced to one statement after one stricter
// retry.
func (g *Generator) Generate(ctx context.Context, question string, schema *domain.SchemaSnapshot, userID string) (*domain.GeneratedQuery, error) {
	decision, err := g.meter.CheckAdmission(ctx, userID)
	if err != nil {
		// Meter failures deny: fail closed, never open.
		return nil, &domain.GenerationUnavailableError{
			Message: fmt.Sprintf("token meter unavailable: %v", err),
		}
	}
	if !decision.Allowed {
		return nil, &domain.GenerationUnavailableError{
			Message:         decision.Reason,
			RemainingTokens: decision.Quota.Remaining(),
			ResetAt:         decision.Quota.ResetAt,
		}
	}

	prompt := g.buildPrompt(question, schema, false)
	query, extractErr := g.attempt(ctx, prompt, userID, schema)
	if extractErr == nil {
		return query, nil
	}
	if _, failed := extractErr.(*domain.GenerationFailedError); !failed {
		return nil, extractErr
	}

	// One retry with a stricter prompt, then surface the failure.
	g.logger.Debug("retrying generation with strict prompt", "user_id", userID, "error", extractErr)
	query, retryErr := g.attempt(ctx, g.buildPrompt(question, schema, true), userID, schema)
	if retryErr != nil {
		return nil, retryErr
	}
	return query, nil
}

// attempt issues one completion call and meters it regardless of outcome.
func (g *Generator) attempt(ctx context.Context, prompt, userID string, schema *domain.SchemaSnapshot) (*domain.GeneratedQuery, error) {
	completion, err := g.completer.Complete(ctx, prompt, g.opts.MaxCompletionTokens)
	if completion != nil {
		// Partial usage on a failed call is still spend.
		if recErr := g.recordUsage(ctx, userID, completion); recErr != nil {
			g.logger.Warn("recording token usage failed", "user_id", userID, "error", recErr)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ErrGenerationFailed("completion call failed: %v", err)
	}

	sqlText, explanation, err := extractStatement(completion.Text)
	if err != nil {
		return nil, err
	}

	usage := &domain.TokenUsage{
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		CostEstimate:     g.costEstimate(completion),
	}
	return &domain.GeneratedQuery{
		SQL:         sqlText,
		Origin:      domain.OriginGenerative,
		Confidence:  DefaultConfidence,
		Explanation: explanation,
		SchemaHash:  schema.Hash,
		Usage:       usage,
	}, nil
}

func (g *Generator) recordUsage(ctx context.Context, userID string, completion *domain.Completion) error {
	return g.meter.Record(ctx, &domain.TokenUsageRecord{
		ID:               uuid.NewString(),
		UserID:           userID,
		PromptTokens:     completion.PromptTokens,
		CompletionTokens: completion.CompletionTokens,
		Model:            g.opts.Model,
		CostEstimate:     g.costEstimate(completion),
	})
}

func (g *Generator) costEstimate(completion *domain.Completion) float64 {
	return float64(completion.PromptTokens)/1000*g.opts.PromptCostPer1K +
		float64(completion.CompletionTokens)/1000*g.opts.CompletionCostPer1K
}

// buildPrompt assembles the completion prompt: instructions, the ranked
// schema context, and the question.
func (g *Generator) buildPrompt(question string, schema *domain.SchemaSnapshot, strict bool) string {
	var b strings.Builder
	b.WriteString("You translate questions into SQL for the schema below.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Produce exactly one read-only statement (SELECT, WITH, or EXPLAIN).\n")
	b.WriteString("- Reference only tables and columns from the schema.\n")
	b.WriteString("- Put the statement in a single ```sql code block, then one sentence explaining it.\n")
	if strict {
		b.WriteString("- STRICT: output one ```sql block containing one statement and nothing else. No second statement, no extra code blocks.\n")
	}
	b.WriteString("\nSchema:\n")
	b.WriteString(schemaContext(question, schema, g.opts.ContextTokenBudget))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}
