package execute

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"askdb/internal/domain"
	"askdb/internal/sqlsafe"
)

// Synthetic dataset shape. Every simulated table behaves as if it held
// simulatedTableRows rows, so aggregate answers stay consistent with counts.
const (
	simulatedTableRows = 100
	simulatedListRows  = 5
)

var simulatedEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SimulatedExecutor fabricates deterministic, schema-consistent results.
// Selected at construction time when the deployment has no live target or a
// connection is flagged as demo; every result carries Simulated=true so
// callers are never silently served synthetic data.
type SimulatedExecutor struct {
	schemas domain.SchemaProvider
	logger  *slog.Logger
}

// NewSimulatedExecutor creates a SimulatedExecutor over the schema cache.
func NewSimulatedExecutor(schemas domain.SchemaProvider, logger *slog.Logger) *SimulatedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedExecutor{schemas: schemas, logger: logger}
}

// Execute synthesizes a result for the statement. The same statement against
// the same schema always produces the same rows.
func (e *SimulatedExecutor) Execute(ctx context.Context, connectionID, normalizedSQL string, maxRows int) (*domain.ExecutionResult, error) {
	if !sqlsafe.IsReadOnlyStatement(normalizedSQL) {
		return nil, &domain.ExecutionDeniedError{SQL: normalizedSQL}
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	schema, err := e.schemas.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	shape := parseShape(normalizedSQL)
	start := time.Now()
	result := e.synthesize(schema, shape, maxRows)
	result.Duration = time.Since(start)
	result.Simulated = true

	e.logger.Debug("query simulated", "connection_id", connectionID, "rows", result.RowCount)
	return result, nil
}

// queryShape is the coarse structure pulled from the statement: enough to
// shape a plausible result, nothing more.
type queryShape struct {
	aggregates []string // lowercased function names, in select-list order
	columns    []string // projected identifiers when no aggregate
	star       bool
	table      string
	limit      int // 0 when absent
}

// parseShape extracts the select list, first table, and limit from the
// token stream.
func parseShape(normalizedSQL string) queryShape {
	toks := sqlsafe.Scan(normalizedSQL)
	shape := queryShape{}

	depth := 0
	section := "" // current top-level clause keyword
	for i, tok := range toks {
		switch tok.Type {
		case sqlsafe.TOKEN_LPAREN:
			depth++
			continue
		case sqlsafe.TOKEN_RPAREN:
			depth--
			continue
		}
		if depth > 0 && section != "select" {
			continue
		}

		switch {
		case tok.Type == sqlsafe.TOKEN_KEYWORD && depth == 0:
			switch tok.Lower {
			case "select", "from", "where", "group", "order", "limit", "having":
				section = tok.Lower
			}
			if section == "select" && isAggregate(tok.Lower) && followedByParen(toks, i) {
				shape.aggregates = append(shape.aggregates, tok.Lower)
			}
		case section == "select" && depth == 0:
			switch tok.Type {
			case sqlsafe.TOKEN_STAR:
				shape.star = true
			case sqlsafe.TOKEN_IDENT:
				if isAggregate(tok.Lower) && followedByParen(toks, i) {
					shape.aggregates = append(shape.aggregates, tok.Lower)
				} else if !followedByParen(toks, i) {
					shape.columns = append(shape.columns, tok.Literal)
				}
			}
		case section == "from" && depth == 0 && tok.Type == sqlsafe.TOKEN_IDENT && shape.table == "":
			shape.table = tok.Literal
		case section == "limit" && depth == 0 && tok.Type == sqlsafe.TOKEN_NUMBER:
			if n, err := strconv.Atoi(tok.Literal); err == nil && n > 0 {
				shape.limit = n
			}
		}
	}
	return shape
}

func isAggregate(lower string) bool {
	switch lower {
	case "count", "sum", "avg", "min", "max":
		return true
	}
	return false
}

func followedByParen(toks []sqlsafe.Token, i int) bool {
	return i+1 < len(toks) && toks[i+1].Type == sqlsafe.TOKEN_LPAREN
}

// synthesize builds the deterministic result for the parsed shape.
func (e *SimulatedExecutor) synthesize(schema *domain.SchemaSnapshot, shape queryShape, maxRows int) *domain.ExecutionResult {
	if len(shape.aggregates) > 0 {
		return aggregateResult(shape.aggregates)
	}

	table, _ := schema.Table(shape.table)

	var columns []string
	switch {
	case shape.star && table != nil:
		columns = table.ColumnNames()
	case len(shape.columns) > 0:
		columns = shape.columns
	case table != nil:
		columns = table.ColumnNames()
	default:
		columns = []string{"result"}
	}

	n := simulatedListRows
	if shape.limit > 0 && shape.limit < n {
		n = shape.limit
	}
	if maxRows < n {
		n = maxRows
	}

	result := &domain.ExecutionResult{Columns: columns}
	for i := 0; i < n; i++ {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			row[j] = syntheticValue(table, col, i)
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	return result
}

// aggregateResult returns the one-row answer for an aggregate select list,
// consistent with a table of simulatedTableRows rows valued 1..N.
func aggregateResult(aggregates []string) *domain.ExecutionResult {
	row := make([]interface{}, len(aggregates))
	columns := make([]string, len(aggregates))
	for i, agg := range aggregates {
		columns[i] = agg
		switch agg {
		case "count":
			row[i] = int64(simulatedTableRows)
		case "sum":
			row[i] = float64(simulatedTableRows*(simulatedTableRows+1)) / 2
		case "avg":
			row[i] = float64(simulatedTableRows+1) / 2
		case "min":
			row[i] = int64(1)
		case "max":
			row[i] = int64(simulatedTableRows)
		}
	}
	return &domain.ExecutionResult{Columns: columns, Rows: [][]interface{}{row}, RowCount: 1}
}

// syntheticValue fabricates a cell consistent with the column's declared
// type. Values depend only on table, column, and row index.
func syntheticValue(table *domain.TableDescriptor, column string, row int) interface{} {
	typeName := ""
	tableName := "t"
	if table != nil {
		tableName = table.Name
		if col, ok := table.Column(column); ok {
			typeName = strings.ToUpper(col.Type)
		}
	}

	switch {
	case strings.Contains(typeName, "INT"):
		return int64(row + 1)
	case strings.Contains(typeName, "DECIMAL"), strings.Contains(typeName, "NUMERIC"),
		strings.Contains(typeName, "DOUBLE"), strings.Contains(typeName, "FLOAT"),
		strings.Contains(typeName, "REAL"):
		return float64(row+1) * 10.5
	case strings.Contains(typeName, "BOOL"):
		return row%2 == 0
	case strings.Contains(typeName, "DATE"), strings.Contains(typeName, "TIME"):
		return simulatedEpoch.AddDate(0, 0, row).Format(time.RFC3339)
	default:
		return fmt.Sprintf("%s_%s_%d", tableName, column, row+1)
	}
}
