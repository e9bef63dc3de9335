package sqlsafe

// TokenType identifies the lexical class of a scanned token.
type TokenType int

// Token types produced by the scanner.
const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF
	TOKEN_IDENT
	TOKEN_KEYWORD
	TOKEN_STRING
	TOKEN_NUMBER
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_COMMA
	TOKEN_DOT
	TOKEN_SEMICOLON
	TOKEN_STAR
	TOKEN_OP
	TOKEN_PARAM
)

// Token is one lexical unit of a SQL string. For TOKEN_KEYWORD the Literal
// preserves the source casing; Lower carries the case-folded form.
type Token struct {
	Type    TokenType
	Literal string
	Lower   string
	Quoted  bool // identifier was double-quoted in the source
}

// keywords is the set of SQL words the scanner classifies as TOKEN_KEYWORD.
// Everything else alphabetic becomes TOKEN_IDENT.
var keywords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "by": true,
	"having": true, "order": true, "limit": true, "offset": true,
	"join": true, "inner": true, "left": true, "right": true, "full": true,
	"outer": true, "cross": true, "natural": true, "on": true, "using": true,
	"as": true, "and": true, "or": true, "not": true, "in": true, "is": true,
	"null": true, "like": true, "ilike": true, "between": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"distinct": true, "union": true, "all": true, "except": true,
	"intersect": true, "with": true, "recursive": true, "asc": true,
	"desc": true, "cast": true, "exists": true, "any": true, "some": true,
	"true": true, "false": true, "explain": true, "analyze": true,
	"over": true, "partition": true, "rows": true, "range": true,
	"unbounded": true, "preceding": true, "following": true, "current": true,
	"row": true, "fetch": true, "first": true, "next": true, "only": true,
	"nulls": true, "last": true, "values": true, "interval": true,
	"filter": true, "escape": true, "collate": true,
	// Statement starters outside the read-only set still lex as keywords so
	// the classifier can name them in rejections.
	"insert": true, "update": true, "delete": true, "create": true,
	"drop": true, "alter": true, "truncate": true, "grant": true,
	"revoke": true, "merge": true, "replace": true, "into": true,
	"table": true, "view": true, "index": true, "set": true,
	"attach": true, "detach": true, "copy": true, "pragma": true,
	"call": true, "install": true, "load": true, "vacuum": true,
	"import": true, "export": true, "begin": true, "commit": true,
	"rollback": true,
}

func lookupWord(lower string) TokenType {
	if keywords[lower] {
		return TOKEN_KEYWORD
	}
	return TOKEN_IDENT
}

// writeStatementKeywords are the statement kinds that can mutate state or
// escape the schema. Presence as a depth-0 statement starter is always fatal.
var writeStatementKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "create": true,
	"drop": true, "alter": true, "truncate": true, "grant": true,
	"revoke": true, "merge": true, "replace": true, "attach": true,
	"detach": true, "copy": true, "pragma": true, "call": true,
	"install": true, "load": true, "vacuum": true, "import": true,
	"export": true, "set": true, "begin": true, "commit": true,
	"rollback": true,
}
