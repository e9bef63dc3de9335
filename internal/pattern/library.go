package pattern

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// libraryFile is the on-disk shape of a pattern library.
type libraryFile struct {
	Patterns []Spec `yaml:"patterns"`
}

// LoadLibrary reads pattern specs from a YAML file.
func LoadLibrary(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern library: %w", err)
	}
	var lib libraryFile
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parsing pattern library %s: %w", path, err)
	}
	if len(lib.Patterns) == 0 {
		return nil, fmt.Errorf("pattern library %s defines no patterns", path)
	}
	return lib.Patterns, nil
}

// DefaultLibrary returns the built-in pattern set, used when no library file
// is configured. Priorities leave room for site-specific patterns on either
// side.
func DefaultLibrary() []Spec {
	return []Spec{
		{
			ID:          "count-rows",
			Kind:        KindCount,
			Priority:    10,
			Match:       `(?i)^\s*how many (?P<table>[a-z_ ]+?)(?: are there| do we have| exist)?\s*\??\s*$`,
			Template:    `SELECT COUNT(*) FROM {table}`,
			Explanation: "Counts the rows in the {table} table.",
		},
		{
			ID:          "count-rows-in",
			Kind:        KindCount,
			Priority:    11,
			Match:       `(?i)^\s*(?:count|number of) (?:rows in )?(?:the )?(?P<table>[a-z_ ]+?)(?: table)?\s*\??\s*$`,
			Template:    `SELECT COUNT(*) FROM {table}`,
			Explanation: "Counts the rows in the {table} table.",
		},
		{
			ID:          "list-all",
			Kind:        KindList,
			Priority:    20,
			Match:       `(?i)^\s*(?:list|show)(?: me)?(?: all)?(?: the)? (?P<table>[a-z_ ]+?)\s*\??\s*$`,
			Template:    `SELECT * FROM {table} LIMIT 50`,
			Explanation: "Lists rows from the {table} table.",
		},
		{
			ID:          "first-n",
			Kind:        KindList,
			Priority:    21,
			Match:       `(?i)^\s*(?:list|show)(?: me)?(?: the)? first (?P<n>\d+) (?P<table>[a-z_ ]+?)\s*\??\s*$`,
			Template:    `SELECT * FROM {table} LIMIT {n}`,
			Explanation: "Lists the first {n} rows from the {table} table.",
		},
		{
			ID:          "top-n-by",
			Kind:        KindTopN,
			Priority:    30,
			Match:       `(?i)^\s*(?:top|largest|biggest) (?P<n>\d+) (?P<table>[a-z_ ]+?) by (?P<column>[a-z_ ]+?)\s*\??\s*$`,
			Template:    `SELECT * FROM {table} ORDER BY {column} DESC LIMIT {n}`,
			Explanation: "Shows the top {n} rows of {table} ordered by {column}.",
		},
		{
			ID:          "aggregate-column",
			Kind:        KindAggregate,
			Priority:    40,
			Match:       `(?i)^\s*(?:what is the )?(?P<agg>total|sum|average|avg|mean|highest|maximum|max|largest|lowest|minimum|min)(?: of)? (?P<column>[a-z_ ]+?) (?:in|of|across|for)(?: the)? (?P<table>[a-z_ ]+?)(?: table)?\s*\??\s*$`,
			Template:    `SELECT {agg}({column}) FROM {table}`,
			Explanation: "Computes {agg} of {column} over the {table} table.",
		},
	}
}
