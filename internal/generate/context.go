package generate

import (
	"fmt"
	"sort"
	"strings"

	"askdb/internal/domain"
)

// Rough characters-per-token ratio used to bound the schema context.
const charsPerToken = 4

// schemaContext renders the snapshot as a compact textual description,
// keeping within the token budget. Tables most likely relevant to the
// question (by keyword overlap with table and column names) come first, so
// truncation drops the least relevant tables.
func schemaContext(question string, schema *domain.SchemaSnapshot, tokenBudget int) string {
	ranked := rankTables(question, schema.Tables)

	budget := tokenBudget * charsPerToken
	var b strings.Builder
	for i, table := range ranked {
		desc := describeTable(table)
		// Always include the best-ranked table, even oversized.
		if i > 0 && b.Len()+len(desc) > budget {
			break
		}
		b.WriteString(desc)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// rankTables orders tables by descending keyword overlap with the question.
// Ties keep snapshot order so output stays deterministic.
func rankTables(question string, tables []domain.TableDescriptor) []domain.TableDescriptor {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(question)) {
		words[strings.Trim(w, "?.,!\"'")] = true
	}

	type scored struct {
		table domain.TableDescriptor
		score int
		pos   int
	}
	out := make([]scored, 0, len(tables))
	for i, t := range tables {
		s := 0
		for _, part := range identifierWords(t.Name) {
			if words[part] || words[part+"s"] || words[strings.TrimSuffix(part, "s")] {
				s += 3
			}
		}
		for _, c := range t.Columns {
			for _, part := range identifierWords(c.Name) {
				if words[part] {
					s++
				}
			}
		}
		out = append(out, scored{table: t, score: s, pos: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].pos < out[j].pos
	})

	ranked := make([]domain.TableDescriptor, len(out))
	for i, s := range out {
		ranked[i] = s.table
	}
	return ranked
}

func identifierWords(name string) []string {
	return strings.Split(strings.ToLower(name), "_")
}

// describeTable renders one table as a single line the model can read:
//
//	customers(id INTEGER, name VARCHAR) pk(id)
func describeTable(t domain.TableDescriptor) string {
	var b strings.Builder
	b.WriteString(t.Name)
	b.WriteByte('(')
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(c.Type)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteByte(')')
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, " pk(%s)", strings.Join(t.PrimaryKey, ", "))
	}
	for _, fk := range t.ForeignKeys {
		fmt.Fprintf(&b, " fk(%s -> %s.%s)", fk.Column, fk.RefTable, fk.RefColumn)
	}
	return b.String()
}
