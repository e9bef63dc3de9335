package sqlsafe

import "strings"

// Normalize collapses whitespace, strips comments, and case-folds keywords to
// upper case. The output is stable under re-normalization and is used as the
// result-cache key and in audit records.
func Normalize(sqlText string) string {
	return renderTokens(Scan(sqlText))
}

func renderTokens(toks []Token) string {
	var b strings.Builder
	prev := Token{Type: TOKEN_EOF}
	for _, tok := range toks {
		if tok.Type == TOKEN_EOF {
			break
		}
		if needSpace(prev, tok) {
			b.WriteByte(' ')
		}
		b.WriteString(renderToken(tok))
		prev = tok
	}
	return b.String()
}

func renderToken(tok Token) string {
	switch tok.Type {
	case TOKEN_KEYWORD:
		return strings.ToUpper(tok.Literal)
	case TOKEN_STRING:
		return "'" + strings.ReplaceAll(tok.Literal, "'", "''") + "'"
	case TOKEN_IDENT:
		if tok.Quoted {
			return `"` + strings.ReplaceAll(tok.Literal, `"`, `""`) + `"`
		}
		return tok.Literal
	default:
		return tok.Literal
	}
}

// needSpace decides token separation in the normalized form: tight around
// punctuation, single spaces elsewhere.
func needSpace(prev, cur Token) bool {
	if prev.Type == TOKEN_EOF {
		return false
	}
	switch cur.Type {
	case TOKEN_COMMA, TOKEN_RPAREN, TOKEN_SEMICOLON, TOKEN_DOT:
		return false
	}
	switch prev.Type {
	case TOKEN_LPAREN, TOKEN_DOT:
		return false
	}
	if cur.Type == TOKEN_OP && cur.Literal == "::" {
		return false
	}
	if prev.Type == TOKEN_OP && prev.Literal == "::" {
		return false
	}
	// Function call: identifier immediately followed by an opening paren.
	if cur.Type == TOKEN_LPAREN && prev.Type == TOKEN_IDENT {
		return false
	}
	return true
}
