// Package pattern answers canonical questions from SQL templates without
// calling the completion provider.
package pattern

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"askdb/internal/domain"
)

// Kind enumerates the closed set of pattern variants. Adding a behavior means
// adding a variant here, not registering arbitrary callbacks.
type Kind string

const (
	KindCount     Kind = "count"
	KindList      Kind = "list"
	KindTopN      Kind = "topn"
	KindAggregate Kind = "aggregate"
)

func (k Kind) valid() bool {
	switch k {
	case KindCount, KindList, KindTopN, KindAggregate:
		return true
	}
	return false
}

// Spec is the declarative form of one pattern, as loaded from the library
// file. Match is a regular expression with named capture groups feeding the
// template slots: table, column, agg, n.
type Spec struct {
	ID          string `yaml:"id"`
	Kind        Kind   `yaml:"kind"`
	Priority    int    `yaml:"priority"`
	Match       string `yaml:"match"`
	Template    string `yaml:"template"`
	Explanation string `yaml:"explanation"`
}

// Pattern is a compiled canonical-question pattern. Static after load, never
// mutated at runtime.
type Pattern struct {
	ID          string
	Kind        Kind
	Priority    int
	re          *regexp.Regexp
	template    string
	explanation string
}

// Compile validates a Spec and compiles its matcher.
func Compile(spec Spec) (*Pattern, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("pattern has no id")
	}
	if !spec.Kind.valid() {
		return nil, fmt.Errorf("pattern %q: unknown kind %q", spec.ID, spec.Kind)
	}
	if spec.Template == "" {
		return nil, fmt.Errorf("pattern %q: empty template", spec.ID)
	}
	re, err := regexp.Compile(spec.Match)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: compiling matcher: %w", spec.ID, err)
	}
	return &Pattern{
		ID:          spec.ID,
		Kind:        spec.Kind,
		Priority:    spec.Priority,
		re:          re,
		template:    spec.Template,
		explanation: spec.Explanation,
	}, nil
}

// slots holds the resolved template substitutions. Table and column values
// are schema identifiers resolved against the snapshot, never raw question
// text.
type slots map[string]string

// aggWords maps aggregation verbs from question text to SQL functions. The
// map is the whitelist: words outside it fail the slot.
var aggWords = map[string]string{
	"total":   "SUM",
	"sum":     "SUM",
	"average": "AVG",
	"avg":     "AVG",
	"mean":    "AVG",
	"highest": "MAX",
	"maximum": "MAX",
	"max":     "MAX",
	"largest": "MAX",
	"lowest":  "MIN",
	"minimum": "MIN",
	"min":     "MIN",
}

// try attempts to match the question and instantiate the template against
// the schema. Returns nil on any miss: no regex match, an unresolvable
// entity, or a malformed numeric slot.
func (p *Pattern) try(question string, schema *domain.SchemaSnapshot) *domain.GeneratedQuery {
	m := p.re.FindStringSubmatch(question)
	if m == nil {
		return nil
	}

	captured := make(map[string]string)
	for i, name := range p.re.SubexpNames() {
		if name != "" && i < len(m) {
			captured[name] = strings.TrimSpace(m[i])
		}
	}

	sl, ok := p.resolve(captured, schema)
	if !ok {
		return nil
	}

	sqlText := p.template
	for name, value := range sl {
		sqlText = strings.ReplaceAll(sqlText, "{"+name+"}", value)
	}
	if strings.Contains(sqlText, "{") {
		// A slot the template needs was not captured by the matcher.
		return nil
	}

	explanation := p.explanation
	for name, value := range sl {
		explanation = strings.ReplaceAll(explanation, "{"+name+"}", value)
	}

	return &domain.GeneratedQuery{
		SQL:         sqlText,
		Origin:      domain.OriginPattern,
		Confidence:  0.9,
		Explanation: explanation,
		SchemaHash:  schema.Hash,
	}
}

// resolve maps captured question text onto whitelisted schema identifiers.
func (p *Pattern) resolve(captured map[string]string, schema *domain.SchemaSnapshot) (slots, bool) {
	sl := make(slots)

	var table *domain.TableDescriptor
	if phrase, ok := captured["table"]; ok {
		table = resolveTable(schema, phrase)
		if table == nil {
			return nil, false
		}
		sl["table"] = table.Name
	}
	if phrase, ok := captured["column"]; ok {
		if table == nil {
			return nil, false
		}
		col := resolveColumn(table, phrase)
		if col == nil {
			return nil, false
		}
		sl["column"] = col.Name
	}
	if word, ok := captured["agg"]; ok {
		fn, known := aggWords[strings.ToLower(word)]
		if !known {
			return nil, false
		}
		sl["agg"] = fn
	}
	if raw, ok := captured["n"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 10_000 {
			return nil, false
		}
		sl["n"] = strconv.Itoa(n)
	}
	return sl, true
}

// resolveTable finds the snapshot table a question phrase refers to, folding
// case, surrounding whitespace, spaces-vs-underscores, and naive plurals.
func resolveTable(schema *domain.SchemaSnapshot, phrase string) *domain.TableDescriptor {
	for _, candidate := range nameCandidates(phrase) {
		for i := range schema.Tables {
			if strings.EqualFold(schema.Tables[i].Name, candidate) {
				return &schema.Tables[i]
			}
		}
	}
	return nil
}

func resolveColumn(table *domain.TableDescriptor, phrase string) *domain.ColumnDescriptor {
	for _, candidate := range nameCandidates(phrase) {
		for i := range table.Columns {
			if strings.EqualFold(table.Columns[i].Name, candidate) {
				return &table.Columns[i]
			}
		}
	}
	return nil
}

// nameCandidates folds a phrase into the identifier spellings worth trying:
// as-is, underscored, singular and plural forms.
func nameCandidates(phrase string) []string {
	base := strings.ToLower(strings.TrimSpace(phrase))
	base = strings.Join(strings.Fields(base), "_")
	if base == "" {
		return nil
	}
	candidates := []string{base}
	if strings.HasSuffix(base, "ies") {
		candidates = append(candidates, strings.TrimSuffix(base, "ies")+"y")
	}
	if strings.HasSuffix(base, "s") {
		candidates = append(candidates, strings.TrimSuffix(base, "s"))
	} else {
		candidates = append(candidates, base+"s")
	}
	if strings.HasSuffix(base, "y") {
		candidates = append(candidates, strings.TrimSuffix(base, "y")+"ies")
	}
	return candidates
}
