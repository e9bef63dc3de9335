// Package pipeline composes the generation tiers, the safety validator, and
// the executor into the public Answer contract.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"askdb/internal/domain"
	"askdb/internal/pattern"
	"askdb/internal/resultcache"
	"askdb/internal/sqlsafe"
)

// Generator is the fallback tier consulted when no pattern matches.
// Implemented by generate.Generator.
type Generator interface {
	Generate(ctx context.Context, question string, schema *domain.SchemaSnapshot, userID string) (*domain.GeneratedQuery, error)
}

// Pipeline answers natural-language questions with validated read-only SQL.
// Every request flows pattern matcher first, generative fallback second, and
// the safety validator always, regardless of which tier produced the SQL.
type Pipeline struct {
	schemas   domain.SchemaProvider
	matcher   *pattern.Matcher
	generator Generator
	validator *sqlsafe.Validator
	executor  domain.Executor
	results   *resultcache.Cache
	history   domain.HistoryRepository
	maxRows   int
	logger    *slog.Logger
}

// Options wires the pipeline's collaborators. History may be nil to disable
// audit logging.
type Options struct {
	Schemas   domain.SchemaProvider
	Matcher   *pattern.Matcher
	Generator Generator
	Validator *sqlsafe.Validator
	Executor  domain.Executor
	Results   *resultcache.Cache
	History   domain.HistoryRepository
	MaxRows   int
	Logger    *slog.Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.MaxRows <= 0 {
		opts.MaxRows = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		schemas:   opts.Schemas,
		matcher:   opts.Matcher,
		generator: opts.Generator,
		validator: opts.Validator,
		executor:  opts.Executor,
		results:   opts.Results,
		history:   opts.History,
		maxRows:   opts.MaxRows,
		logger:    opts.Logger,
	}
}

// Answer resolves a question into a QueryOutcome. Pipeline-stage failures
// are folded into the outcome's Error field; the returned error is non-nil
// only for unusable input (empty question or connection id).
func (p *Pipeline) Answer(ctx context.Context, question, connectionID, userID string) (*domain.QueryOutcome, error) {
	if question == "" {
		return nil, domain.ErrValidation("question must not be empty")
	}
	if connectionID == "" {
		return nil, domain.ErrValidation("connection_id must not be empty")
	}

	req := &request{
		question:     question,
		connectionID: connectionID,
		userID:       userID,
		started:      time.Now(),
	}
	outcome := p.answer(ctx, req)
	p.audit(ctx, req, outcome)
	return outcome, nil
}

// request carries the per-call state threaded through the stages. Each call
// owns its request; nothing here is shared across goroutines.
type request struct {
	question     string
	connectionID string
	userID       string
	started      time.Time
	violations   []domain.ViolationKind
	cacheHit     bool
}

func (p *Pipeline) answer(ctx context.Context, req *request) *domain.QueryOutcome {
	schema, err := p.schemas.Get(ctx, req.connectionID)
	if err != nil {
		return failure("", nil, err)
	}

	query := p.matcher.Match(req.question, schema)
	if query == nil {
		query, err = p.generator.Generate(ctx, req.question, schema, req.userID)
		if err != nil {
			return failure("", nil, err)
		}
	}

	// The validator runs on every statement, pattern-built ones included.
	verdict := p.validator.Validate(query.SQL, schema)
	if !verdict.Allowed {
		req.violations = verdict.Violations
		p.logger.Info("query rejected",
			"user_id", req.userID,
			"connection_id", req.connectionID,
			"violations", verdict.Violations,
			"sql", verdict.NormalizedSQL)
		return failure(verdict.NormalizedSQL, query, &domain.ValidationRejectedError{
			Violations:    verdict.Violations,
			NormalizedSQL: verdict.NormalizedSQL,
		})
	}

	key := resultcache.NewKey(req.connectionID, verdict.NormalizedSQL)
	result := p.results.Get(key)
	if result != nil {
		req.cacheHit = true
	} else {
		result, err = p.executor.Execute(ctx, req.connectionID, verdict.NormalizedSQL, p.maxRows)
		if err != nil {
			return failure(verdict.NormalizedSQL, query, err)
		}
		p.results.Put(key, result)
	}

	return &domain.QueryOutcome{
		SQL:             verdict.NormalizedSQL,
		Origin:          query.Origin,
		Explanation:     query.Explanation,
		Rows:            result.RowMaps(),
		RowCount:        result.RowCount,
		Truncated:       result.Truncated,
		ExecutionTimeMs: float64(result.Duration.Microseconds()) / 1000.0,
		Simulated:       result.Simulated,
		TokenUsage:      query.Usage,
	}
}

// failure folds a stage error into an outcome, keeping whatever SQL and
// token spend the request accumulated before failing.
func failure(normalizedSQL string, query *domain.GeneratedQuery, err error) *domain.QueryOutcome {
	out := &domain.QueryOutcome{
		SQL: normalizedSQL,
		Error: &domain.OutcomeError{
			Kind:    domain.ErrorKind(err),
			Message: err.Error(),
		},
	}
	if query != nil {
		out.Origin = query.Origin
		out.Explanation = query.Explanation
		out.TokenUsage = query.Usage
	}
	return out
}

// audit appends a history entry for the request. Best-effort: an audit
// failure is logged, never surfaced to the caller.
func (p *Pipeline) audit(ctx context.Context, req *request, outcome *domain.QueryOutcome) {
	if p.history == nil {
		return
	}

	entry := &domain.HistoryEntry{
		UserID:       req.userID,
		ConnectionID: req.connectionID,
		Question:     req.question,
		Status:       domain.HistoryStatusOK,
		Simulated:    outcome.Simulated,
	}
	if outcome.SQL != "" {
		entry.SQL = &outcome.SQL
	}
	if outcome.Origin != "" {
		origin := string(outcome.Origin)
		entry.Origin = &origin
	}
	if outcome.Error != nil {
		entry.Status = domain.HistoryStatusError
		if outcome.Error.Kind == domain.KindValidationRejected {
			entry.Status = domain.HistoryStatusRejected
		}
		entry.ErrorKind = &outcome.Error.Kind
		entry.ErrorMessage = &outcome.Error.Message
		for _, v := range req.violations {
			entry.Violations = append(entry.Violations, string(v))
		}
	} else {
		rows := int64(outcome.RowCount)
		entry.RowsReturned = &rows
	}
	duration := time.Since(req.started).Milliseconds()
	entry.DurationMs = &duration

	if err := p.history.Insert(ctx, entry); err != nil {
		p.logger.Warn("writing history entry failed",
			"user_id", req.userID, "error", err)
	}
}
