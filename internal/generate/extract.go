package generate

import (
	"regexp"
	"strings"

	"askdb/internal/domain"
	"askdb/internal/sqlsafe"
)

var fenceRE = regexp.MustCompile("(?s)```(?:sql|SQL)?\\s*\n?(.*?)```")

// extractStatement reduces raw model output to exactly one read-only SQL
// statement. Zero statements, multiple statements, or text that does not lex
// as a query is a GenerationFailed condition; the output is never repaired.
// Returns the statement plus any prose outside the code fence, which serves
// as the explanation.
func extractStatement(raw string) (sqlText, explanation string, err error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", "", domain.ErrGenerationFailed("provider returned empty output")
	}

	if blocks := fenceRE.FindAllStringSubmatch(candidate, -1); len(blocks) > 0 {
		if len(blocks) > 1 {
			return "", "", domain.ErrGenerationFailed("provider returned %d code blocks, expected one", len(blocks))
		}
		sqlText = strings.TrimSpace(blocks[0][1])
		explanation = cleanExplanation(fenceRE.ReplaceAllString(candidate, ""))
	} else {
		sqlText = candidate
	}

	sqlText = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if sqlText == "" {
		return "", "", domain.ErrGenerationFailed("provider output contains no SQL statement")
	}

	toks := sqlsafe.Scan(sqlText)
	for _, tok := range toks {
		switch tok.Type {
		case sqlsafe.TOKEN_ILLEGAL:
			return "", "", domain.ErrGenerationFailed("provider output does not lex as SQL near %q", tok.Literal)
		case sqlsafe.TOKEN_SEMICOLON:
			return "", "", domain.ErrGenerationFailed("provider returned multiple statements")
		}
	}

	first := toks[0]
	if first.Type != sqlsafe.TOKEN_KEYWORD ||
		(first.Lower != "select" && first.Lower != "with" && first.Lower != "explain") {
		return "", "", domain.ErrGenerationFailed("provider output is not a query (starts with %q)", first.Literal)
	}

	return sqlText, explanation, nil
}

// cleanExplanation strips label prefixes and collapses the prose surrounding
// the code fence into one line.
func cleanExplanation(prose string) string {
	prose = strings.TrimSpace(prose)
	for _, prefix := range []string{"Explanation:", "explanation:"} {
		prose = strings.TrimSpace(strings.TrimPrefix(prose, prefix))
	}
	return strings.Join(strings.Fields(prose), " ")
}
