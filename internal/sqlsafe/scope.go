package sqlsafe

import (
	"askdb/internal/domain"
)

// scope tracks what names a statement may legally reference: snapshot tables
// and columns, CTE names, and aliases introduced by the statement itself.
type scope struct {
	schema *domain.SchemaSnapshot
	// aliasTable maps an alias or table reference to the underlying snapshot
	// table name; empty string means the alias covers a derived table or CTE
	// whose columns cannot be checked statically.
	aliasTable map[string]string
	// names holds every identifier the statement itself introduces (CTE
	// names, column aliases) and is consulted for unqualified references.
	names map[string]bool
}

// identifiersResolve reports whether every table/column identifier in the
// token stream resolves against the snapshot or a name introduced by the
// statement. Function names (identifier followed by an opening paren) are not
// schema identifiers and are skipped; the denylist already vets them.
func identifiersResolve(toks []Token, schema *domain.SchemaSnapshot) bool {
	sc := &scope{
		schema:     schema,
		aliasTable: make(map[string]string),
		names:      make(map[string]bool),
	}
	sc.collectCTEs(toks)
	if !sc.collectTableRefs(toks) {
		return false
	}
	sc.collectAliases(toks)
	return sc.checkReferences(toks)
}

// collectCTEs records names bound by WITH clauses: IDENT [ (cols) ] AS ( ... ).
func (s *scope) collectCTEs(toks []Token) {
	for i := 0; i < len(toks); i++ {
		if toks[i].Type != TOKEN_IDENT {
			continue
		}
		j := i + 1
		if j < len(toks) && toks[j].Type == TOKEN_LPAREN {
			j = skipBalanced(toks, j)
		}
		if j+1 < len(toks) &&
			toks[j].Type == TOKEN_KEYWORD && toks[j].Lower == "as" &&
			toks[j+1].Type == TOKEN_LPAREN {
			s.names[toks[i].Lower] = true
			s.aliasTable[toks[i].Lower] = ""
		}
	}
}

// collectTableRefs walks FROM and JOIN clauses, verifying base-table
// references against the snapshot and recording aliases. Returns false when a
// referenced table is neither a snapshot table nor a CTE.
func (s *scope) collectTableRefs(toks []Token) bool {
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Type != TOKEN_KEYWORD || (tok.Lower != "from" && tok.Lower != "join") {
			continue
		}
		j := i + 1
		for {
			if j >= len(toks) {
				break
			}
			switch toks[j].Type {
			case TOKEN_LPAREN:
				// Derived table or nested join; contents are validated when
				// their own FROM/JOIN keywords are visited.
				j = skipBalanced(toks, j)
				if j < len(toks) && toks[j].Type == TOKEN_KEYWORD && toks[j].Lower == "as" {
					j++
				}
				if j < len(toks) && toks[j].Type == TOKEN_IDENT {
					s.aliasTable[toks[j].Lower] = ""
					s.names[toks[j].Lower] = true
					j++
				}
			case TOKEN_IDENT:
				name := toks[j].Lower
				j++
				// Qualified name: keep the last segment as the table name.
				for j+1 < len(toks) && toks[j].Type == TOKEN_DOT && toks[j+1].Type == TOKEN_IDENT {
					name = toks[j+1].Lower
					j += 2
				}
				if _, ok := s.schema.Table(name); ok {
					s.aliasTable[name] = name
					s.names[name] = true
				} else if _, isCTE := s.aliasTable[name]; !isCTE {
					return false
				}
				// Optional alias: [AS] IDENT.
				aliasTarget := name
				if _, ok := s.schema.Table(name); !ok {
					aliasTarget = ""
				}
				if j < len(toks) && toks[j].Type == TOKEN_KEYWORD && toks[j].Lower == "as" {
					j++
				}
				if j < len(toks) && toks[j].Type == TOKEN_IDENT {
					s.aliasTable[toks[j].Lower] = aliasTarget
					s.names[toks[j].Lower] = true
					j++
				}
			default:
				j = len(toks)
			}
			// A comma continues the FROM list; anything else ends it.
			if j < len(toks) && toks[j].Type == TOKEN_COMMA && tok.Lower == "from" {
				j++
				continue
			}
			break
		}
	}
	return true
}

// collectAliases records column aliases: AS IDENT not opening a subquery.
func (s *scope) collectAliases(toks []Token) {
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].Type == TOKEN_KEYWORD && toks[i].Lower == "as" &&
			toks[i+1].Type == TOKEN_IDENT {
			s.names[toks[i+1].Lower] = true
		}
	}
}

// checkReferences verifies every remaining identifier.
func (s *scope) checkReferences(toks []Token) bool {
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Type != TOKEN_IDENT {
			continue
		}
		// Function call: not a schema identifier.
		if i+1 < len(toks) && toks[i+1].Type == TOKEN_LPAREN {
			continue
		}
		// Qualifier position: IDENT '.' ...
		if i+1 < len(toks) && toks[i+1].Type == TOKEN_DOT {
			if !s.qualifierResolves(toks, i) {
				return false
			}
			continue
		}
		// Column position after a qualifier: handled with its qualifier.
		if i > 0 && toks[i-1].Type == TOKEN_DOT {
			continue
		}
		// Cast target: x::integer.
		if i > 0 && toks[i-1].Type == TOKEN_OP && toks[i-1].Literal == "::" {
			continue
		}
		if !s.unqualifiedResolves(tok.Lower) {
			return false
		}
	}
	return true
}

// qualifierResolves checks a qualified reference q.c (or q.*).
func (s *scope) qualifierResolves(toks []Token, i int) bool {
	qualifier := toks[i].Lower
	// q may itself be a schema/catalog prefix of a known table: q.table.
	if i+2 < len(toks) && toks[i+2].Type == TOKEN_IDENT {
		if _, ok := s.schema.Table(toks[i+2].Lower); ok {
			return true
		}
	}
	table, known := s.aliasTable[qualifier]
	if !known {
		return false
	}
	if table == "" {
		return true // CTE or derived table: columns not statically known
	}
	if i+2 >= len(toks) {
		return false
	}
	col := toks[i+2]
	if col.Type == TOKEN_STAR {
		return true
	}
	if col.Type != TOKEN_IDENT {
		return false
	}
	t, ok := s.schema.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(col.Lower)
	return ok
}

// unqualifiedResolves checks a bare identifier against tables, columns of any
// table, CTEs, aliases, and the builtin type/datepart vocabulary.
func (s *scope) unqualifiedResolves(name string) bool {
	if s.names[name] || builtinNames[name] {
		return true
	}
	if _, ok := s.schema.Table(name); ok {
		return true
	}
	return s.schema.HasColumn(name)
}

// builtinNames covers type names and dateparts that appear in identifier
// position without being schema objects (CAST targets, EXTRACT fields).
var builtinNames = map[string]bool{
	"integer": true, "int": true, "bigint": true, "smallint": true,
	"double": true, "float": true, "real": true, "numeric": true,
	"decimal": true, "varchar": true, "text": true, "char": true,
	"boolean": true, "bool": true, "date": true, "time": true,
	"timestamp": true, "timestamptz": true, "blob": true, "uuid": true,
	"year": true, "month": true, "day": true, "hour": true, "minute": true,
	"second": true, "quarter": true, "week": true, "dow": true, "doy": true,
	"epoch": true,
}

// skipBalanced returns the index just past the group opened at toks[open].
func skipBalanced(toks []Token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch toks[i].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(toks)
}
