// Package sqlsafe validates SQL text against the read-only safety policy.
//
// Validation is a pure function over the SQL string and a schema snapshot:
// no I/O, deterministic for identical inputs. Four ordered checks run with
// short-circuit on first failure: statement kind, lexical denylist, schema
// scope, complexity bound. The normalized SQL is produced in every case so
// rejected queries can still be audit-logged.
package sqlsafe

import (
	"strings"

	"askdb/internal/domain"
)

// Config tunes the validator. Zero values select the defaults.
type Config struct {
	// Denylist is the set of forbidden whole-word tokens. Merged with the
	// built-in write-statement keywords and escape-hatch functions.
	Denylist []string
	// MaxJoins caps the number of JOIN clauses in one statement.
	MaxJoins int
	// MaxNestingDepth caps subquery nesting (parenthesised SELECT depth).
	MaxNestingDepth int
}

// Default complexity ceilings.
const (
	DefaultMaxJoins        = 8
	DefaultMaxNestingDepth = 4
)

// defaultDenylist blocks functions that read the filesystem, leak catalog
// internals, or escape the query sandbox.
var defaultDenylist = []string{
	"read_csv", "read_csv_auto", "read_parquet", "read_json",
	"read_json_auto", "read_text", "read_blob", "glob", "sqlite_scan",
	"query_table", "duckdb_extensions", "duckdb_settings",
	"duckdb_databases", "duckdb_secrets", "pragma_database_list",
	"load_extension", "readfile", "writefile",
}

// Validator applies the safety policy. Safe for concurrent use: it holds only
// immutable configuration.
type Validator struct {
	denylist map[string]bool
	maxJoins int
	maxDepth int
}

// New creates a Validator from cfg, filling unset fields with defaults.
func New(cfg Config) *Validator {
	v := &Validator{
		denylist: make(map[string]bool),
		maxJoins: cfg.MaxJoins,
		maxDepth: cfg.MaxNestingDepth,
	}
	if v.maxJoins <= 0 {
		v.maxJoins = DefaultMaxJoins
	}
	if v.maxDepth <= 0 {
		v.maxDepth = DefaultMaxNestingDepth
	}
	for w := range writeStatementKeywords {
		v.denylist[w] = true
	}
	for _, w := range defaultDenylist {
		v.denylist[strings.ToLower(w)] = true
	}
	for _, w := range cfg.Denylist {
		v.denylist[strings.ToLower(w)] = true
	}
	return v
}

// Validate runs the four ordered checks over sqlText. The returned verdict
// always carries the normalized SQL, even when rejected.
func (v *Validator) Validate(sqlText string, schema *domain.SchemaSnapshot) domain.ValidationVerdict {
	toks := Scan(sqlText)
	verdict := domain.ValidationVerdict{NormalizedSQL: renderTokens(toks)}

	reject := func(kind domain.ViolationKind) domain.ValidationVerdict {
		verdict.Allowed = false
		verdict.Violations = append(verdict.Violations, kind)
		return verdict
	}

	// 1. Statement kind: SELECT, WITH...SELECT, or EXPLAIN SELECT only.
	if !statementIsReadOnly(toks) {
		return reject(domain.ViolationStatementKind)
	}

	// 2. Lexical denylist: whole-word matches outside string literals.
	for i, tok := range toks {
		if tok.Type != TOKEN_IDENT && tok.Type != TOKEN_KEYWORD {
			continue
		}
		if tok.Type == TOKEN_KEYWORD && writeStatementKeywords[tok.Lower] && callPosition(toks, i) {
			// Scalar function sharing a write keyword's name, e.g.
			// REPLACE(name, 'a', 'b'). Statement position is vetted by the
			// statement-kind check.
			continue
		}
		if v.denylist[tok.Lower] {
			return reject(domain.ViolationDeniedToken)
		}
	}

	// 3. Schema scope: every referenced identifier must resolve against the
	// snapshot. Defends against catalog probing and hallucinated tables.
	if schema != nil {
		if !identifiersResolve(toks, schema) {
			return reject(domain.ViolationUnknownIdentifier)
		}
	}

	// 4. Complexity bound.
	joins, depth := complexity(toks)
	if joins > v.maxJoins || depth > v.maxDepth {
		return reject(domain.ViolationTooComplex)
	}

	verdict.Allowed = true
	return verdict
}

// IsReadOnlyStatement reports whether sqlText parses as a single read-only
// statement. The executor re-runs this cheap check immediately before
// dispatch as defense in depth.
func IsReadOnlyStatement(sqlText string) bool {
	return statementIsReadOnly(Scan(sqlText))
}

// statementIsReadOnly implements the statement-kind check: exactly one
// statement, starting with SELECT, WITH, or EXPLAIN [ANALYZE], and free of
// write-statement keywords at any nesting level (rejects DML smuggled into a
// CTE body).
func statementIsReadOnly(toks []Token) bool {
	// Drop EOF and a single trailing semicolon.
	end := len(toks) - 1 // EOF
	if end > 0 && toks[end-1].Type == TOKEN_SEMICOLON {
		end--
	}
	toks = toks[:end]
	if len(toks) == 0 {
		return false
	}

	// Any interior semicolon means a multi-statement batch.
	for _, tok := range toks {
		if tok.Type == TOKEN_SEMICOLON || tok.Type == TOKEN_ILLEGAL {
			return false
		}
	}

	i := 0
	if toks[i].Type == TOKEN_KEYWORD && toks[i].Lower == "explain" {
		i++
		if i < len(toks) && toks[i].Type == TOKEN_KEYWORD && toks[i].Lower == "analyze" {
			i++
		}
	}
	if i >= len(toks) || toks[i].Type != TOKEN_KEYWORD {
		return false
	}

	switch toks[i].Lower {
	case "select":
	case "with":
		// The final statement of the CTE chain must be a SELECT at depth 0.
		if !hasTopLevelSelect(toks[i+1:]) {
			return false
		}
	default:
		return false
	}

	// No write-statement keyword anywhere, including inside parentheses.
	// Keywords in function-call position are scalar functions that happen to
	// share a statement keyword's name; no mutating statement puts its
	// starter keyword directly before an opening paren.
	for j, tok := range toks {
		if tok.Type != TOKEN_KEYWORD {
			continue
		}
		if writeStatementKeywords[tok.Lower] && !callPosition(toks, j) {
			return false
		}
		if tok.Lower == "into" {
			return false // SELECT ... INTO materializes a table
		}
	}
	return true
}

// callPosition reports whether toks[i] is used as a function name.
func callPosition(toks []Token, i int) bool {
	return i+1 < len(toks) && toks[i+1].Type == TOKEN_LPAREN
}

func hasTopLevelSelect(toks []Token) bool {
	depth := 0
	for _, tok := range toks {
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_KEYWORD:
			if depth == 0 && tok.Lower == "select" {
				return true
			}
		}
	}
	return false
}

// complexity estimates join count and subquery nesting depth.
func complexity(toks []Token) (joins, maxDepth int) {
	depth := 0
	for _, tok := range toks {
		switch tok.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		case TOKEN_KEYWORD:
			switch tok.Lower {
			case "join":
				joins++
			case "select":
				if depth > maxDepth {
					maxDepth = depth
				}
			}
		}
	}
	return joins, maxDepth
}
