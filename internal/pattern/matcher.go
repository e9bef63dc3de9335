package pattern

import (
	"log/slog"
	"sort"

	"askdb/internal/domain"
)

// Matcher holds the compiled pattern library in priority order and tries
// each pattern against an incoming question. First full match wins.
type Matcher struct {
	patterns []*Pattern
	logger   *slog.Logger
}

// NewMatcher compiles the given specs. Loading stops on the first invalid
// spec rather than silently dropping it.
func NewMatcher(specs []Spec, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := make([]*Pattern, 0, len(specs))
	for _, spec := range specs {
		p, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Priority < patterns[j].Priority
	})
	return &Matcher{patterns: patterns, logger: logger}, nil
}

// Match tries the library against the question. A nil result is the
// expected frequent outcome meaning no pattern applies, not a failure.
func (m *Matcher) Match(question string, schema *domain.SchemaSnapshot) *domain.GeneratedQuery {
	for _, p := range m.patterns {
		if q := p.try(question, schema); q != nil {
			m.logger.Debug("pattern matched", "pattern_id", p.ID, "sql", q.SQL)
			return q
		}
	}
	return nil
}

// Len reports the number of loaded patterns.
func (m *Matcher) Len() int { return len(m.patterns) }
