package pattern

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdb/internal/domain"
)

func testSchema() *domain.SchemaSnapshot {
	tables := []domain.TableDescriptor{
		{
			Name: "customers",
			Columns: []domain.ColumnDescriptor{
				{Name: "id", Type: "INTEGER"},
				{Name: "name", Type: "VARCHAR"},
				{Name: "country", Type: "VARCHAR"},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "orders",
			Columns: []domain.ColumnDescriptor{
				{Name: "id", Type: "INTEGER"},
				{Name: "customer_id", Type: "INTEGER"},
				{Name: "amount", Type: "DECIMAL(10,2)"},
				{Name: "created_at", Type: "TIMESTAMP"},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "product_categories",
			Columns: []domain.ColumnDescriptor{
				{Name: "id", Type: "INTEGER"},
				{Name: "label", Type: "VARCHAR"},
			},
		},
	}
	return &domain.SchemaSnapshot{
		ConnectionID: "demo",
		Tables:       tables,
		Hash:         domain.ComputeHash(tables),
	}
}

func defaultMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultLibrary(), nil)
	require.NoError(t, err)
	return m
}

// === Match ===

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	m := defaultMatcher(t)

	tests := []struct {
		name     string
		question string
		wantSQL  string
	}{
		{
			name:     "count question",
			question: "How many customers are there?",
			wantSQL:  "SELECT COUNT(*) FROM customers",
		},
		{
			name:     "count without suffix",
			question: "how many orders",
			wantSQL:  "SELECT COUNT(*) FROM orders",
		},
		{
			name:     "count with do-we-have suffix",
			question: "How many orders do we have?",
			wantSQL:  "SELECT COUNT(*) FROM orders",
		},
		{
			name:     "number of rows phrasing",
			question: "number of rows in the customers table",
			wantSQL:  "SELECT COUNT(*) FROM customers",
		},
		{
			name:     "multi-word table name",
			question: "How many product categories are there?",
			wantSQL:  "SELECT COUNT(*) FROM product_categories",
		},
		{
			name:     "list all",
			question: "List all customers",
			wantSQL:  "SELECT * FROM customers LIMIT 50",
		},
		{
			name:     "first n",
			question: "show me the first 5 orders",
			wantSQL:  "SELECT * FROM orders LIMIT 5",
		},
		{
			name:     "top n by column",
			question: "top 3 orders by amount",
			wantSQL:  "SELECT * FROM orders ORDER BY amount DESC LIMIT 3",
		},
		{
			name:     "aggregate sum",
			question: "What is the total amount in orders?",
			wantSQL:  "SELECT SUM(amount) FROM orders",
		},
		{
			name:     "aggregate avg",
			question: "average amount of orders",
			wantSQL:  "SELECT AVG(amount) FROM orders",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Match(tt.question, schema)
			require.NotNil(t, got, "expected a pattern match")
			assert.Equal(t, tt.wantSQL, got.SQL)
			assert.Equal(t, domain.OriginPattern, got.Origin)
			assert.Equal(t, schema.Hash, got.SchemaHash)
			assert.NotEmpty(t, got.Explanation)
		})
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	m := defaultMatcher(t)

	tests := []struct {
		name     string
		question string
	}{
		{"free-form question", "Which customers churned last quarter and why?"},
		{"unknown table", "How many unicorns are there?"},
		{"unknown column", "top 3 orders by discount"},
		{"write request", "Delete all orders"},
		{"unknown aggregation word", "median amount of orders"},
		{"zero limit", "show me the first 0 orders"},
		{"empty question", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Nil(t, m.Match(tt.question, schema))
		})
	}
}

func TestMatcher_PriorityOrder(t *testing.T) {
	t.Parallel()

	specs := []Spec{
		{
			ID: "late", Kind: KindCount, Priority: 20,
			Match:    `(?i)^how many (?P<table>\w+)`,
			Template: `SELECT COUNT(*) FROM {table} -- late`,
		},
		{
			ID: "early", Kind: KindCount, Priority: 10,
			Match:    `(?i)^how many (?P<table>\w+)`,
			Template: `SELECT COUNT(*) FROM {table}`,
		},
	}
	m, err := NewMatcher(specs, nil)
	require.NoError(t, err)

	got := m.Match("how many customers", testSchema())
	require.NotNil(t, got)
	assert.Equal(t, "SELECT COUNT(*) FROM customers", got.SQL, "lower priority value must win")
}

// === Compile ===

func TestCompile_InvalidSpecs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
	}{
		{"missing id", Spec{Kind: KindCount, Match: `x`, Template: `SELECT 1`}},
		{"unknown kind", Spec{ID: "p", Kind: Kind("regex"), Match: `x`, Template: `SELECT 1`}},
		{"bad regex", Spec{ID: "p", Kind: KindCount, Match: `(`, Template: `SELECT 1`}},
		{"empty template", Spec{ID: "p", Kind: KindCount, Match: `x`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestCompile_UnfilledSlotMisses(t *testing.T) {
	t.Parallel()

	// Template references {column} but the matcher never captures it.
	p, err := Compile(Spec{
		ID: "broken", Kind: KindTopN,
		Match:    `(?i)^top (?P<n>\d+) (?P<table>\w+)$`,
		Template: `SELECT * FROM {table} ORDER BY {column} DESC LIMIT {n}`,
	})
	require.NoError(t, err)
	assert.Nil(t, p.try("top 3 orders", testSchema()))
}

// === Library loading ===

func TestLoadLibrary(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "patterns.yaml")
	content := `patterns:
  - id: count-rows
    kind: count
    priority: 10
    match: '(?i)^how many (?P<table>[a-z_ ]+?)\??$'
    template: 'SELECT COUNT(*) FROM {table}'
    explanation: 'Counts rows in {table}.'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	specs, err := LoadLibrary(path)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "count-rows", specs[0].ID)
	assert.Equal(t, KindCount, specs[0].Kind)

	m, err := NewMatcher(specs, nil)
	require.NoError(t, err)
	got := m.Match("how many customers?", testSchema())
	require.NotNil(t, got)
	assert.Equal(t, "SELECT COUNT(*) FROM customers", got.SQL)
}

func TestLoadLibrary_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadLibrary(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("patterns: []\n"), 0o644))
	_, err = LoadLibrary(empty)
	assert.Error(t, err)
}
