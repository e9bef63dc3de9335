package sqlsafe

import (
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
				{Name: "email", Type: "VARCHAR", Nullable: true},
				{Name: "created_at", Type: "TIMESTAMP"},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "orders",
			Columns: []domain.ColumnDescriptor{
				{Name: "id", Type: "INTEGER"},
				{Name: "customer_id", Type: "INTEGER"},
				{Name: "total", Type: "DOUBLE"},
				{Name: "status", Type: "VARCHAR"},
			},
			PrimaryKey:  []string{"id"},
			ForeignKeys: []domain.ForeignKey{{Column: "customer_id", RefTable: "customers", RefColumn: "id"}},
		},
	}
	return &domain.SchemaSnapshot{
		ConnectionID: "demo",
		Tables:       tables,
		Hash:         domain.ComputeHash(tables),
	}
}

// === Statement kind ===

func TestValidate_StatementKind(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	schema := testSchema()

	tests := []struct {
		name    string
		sql     string
		allowed bool
	}{
		{"plain select", "SELECT id FROM customers", true},
		{"lowercase select", "select id from customers", true},
		{"trailing semicolon", "SELECT id FROM customers;", true},
		{"explain select", "EXPLAIN SELECT id FROM customers", true},
		{"explain analyze select", "EXPLAIN ANALYZE SELECT id FROM customers", true},
		{"cte select", "WITH recent AS (SELECT id FROM orders) SELECT id FROM recent", true},
		{"union select", "SELECT id FROM customers UNION ALL SELECT id FROM orders", true},
		{"insert", "INSERT INTO customers VALUES (1)", false},
		{"update", "UPDATE customers SET name = 'x'", false},
		{"delete", "DELETE FROM orders", false},
		{"drop", "DROP TABLE customers", false},
		{"truncate", "TRUNCATE customers", false},
		{"grant", "GRANT SELECT ON customers TO bob", false},
		{"multi-statement batch", "SELECT id FROM customers; DROP TABLE customers", false},
		{"mixed case obfuscation", "DeLeTe FrOm orders", false},
		{"leading comment", "/* harmless */ DROP TABLE customers", false},
		{"comment-split keyword context", "SELECT id FROM customers -- tail comment", true},
		{"dml inside cte", "WITH x AS (DELETE FROM orders RETURNING id) SELECT id FROM x", false},
		{"replace as scalar function", "SELECT REPLACE(name, 'a', 'b') FROM customers", true},
		{"truncate as scalar function", "SELECT TRUNCATE(total) FROM orders", true},
		{"replace as statement", "REPLACE INTO customers VALUES (1)", false},
		{"select into", "SELECT id INTO staging FROM customers", false},
		{"explain wrapping insert", "EXPLAIN INSERT INTO customers VALUES (1)", false},
		{"empty input", "   ", false},
		{"bare semicolon", ";", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verdict := v.Validate(tt.sql, schema)
			assert.Equal(t, tt.allowed, verdict.Allowed, "sql: %s", tt.sql)
			if !tt.allowed {
				require.NotEmpty(t, verdict.Violations)
			}
		})
	}
}

func TestValidate_RejectionReportsViolationKind(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	verdict := v.Validate("DELETE FROM orders", testSchema())

	require.False(t, verdict.Allowed)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, domain.ViolationStatementKind, verdict.Violations[0])
	assert.NotEmpty(t, verdict.NormalizedSQL, "rejected queries still carry normalized SQL for audit")
}

// === Lexical denylist ===

func TestValidate_Denylist(t *testing.T) {
	t.Parallel()

	v := New(Config{Denylist: []string{"information_schema"}})
	schema := testSchema()

	tests := []struct {
		name    string
		sql     string
		allowed bool
	}{
		{"dangerous function", "SELECT * FROM read_csv('/etc/passwd')", false},
		{"catalog probe function", "SELECT * FROM duckdb_settings()", false},
		{"configured token", "SELECT * FROM information_schema.tables", false},
		{"denied word inside string literal", "SELECT id FROM customers WHERE name = 'Update'", true},
		{"denied word inside string with casing", "SELECT id FROM customers WHERE name = 'drop table'", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verdict := v.Validate(tt.sql, schema)
			assert.Equal(t, tt.allowed, verdict.Allowed, "sql: %s", tt.sql)
		})
	}
}

// === Schema scope ===

func TestValidate_SchemaScope(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	schema := testSchema()

	tests := []struct {
		name    string
		sql     string
		allowed bool
	}{
		{"known table and columns", "SELECT name, email FROM customers", true},
		{"table alias", "SELECT c.name FROM customers AS c", true},
		{"implicit alias", "SELECT c.name FROM customers c", true},
		{"join across known tables", "SELECT c.name, o.total FROM customers c JOIN orders o ON o.customer_id = c.id", true},
		{"cte reference", "WITH big AS (SELECT customer_id FROM orders WHERE total > 100) SELECT customer_id FROM big", true},
		{"star select", "SELECT * FROM orders", true},
		{"qualified star", "SELECT o.* FROM orders o", true},
		{"aggregate function", "SELECT count(*) FROM customers", true},
		{"cast syntax", "SELECT CAST(total AS integer) FROM orders", true},
		{"double-colon cast", "SELECT total::integer FROM orders", true},
		{"derived table with alias", "SELECT d.total FROM (SELECT total FROM orders) d", true},
		{"unknown table", "SELECT id FROM invoices", false},
		{"unknown column qualified", "SELECT c.age FROM customers c", false},
		{"unknown unqualified identifier", "SELECT shoe_size FROM customers", false},
		{"unknown alias qualifier", "SELECT x.name FROM customers c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verdict := v.Validate(tt.sql, schema)
			assert.Equal(t, tt.allowed, verdict.Allowed, "sql: %s", tt.sql)
			if !tt.allowed {
				assert.Contains(t, verdict.Violations, domain.ViolationUnknownIdentifier)
			}
		})
	}
}

func TestValidate_NilSchemaSkipsScopeCheck(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	verdict := v.Validate("SELECT anything FROM anywhere", nil)
	assert.True(t, verdict.Allowed)
}

// === Complexity bound ===

func TestValidate_Complexity(t *testing.T) {
	t.Parallel()

	v := New(Config{MaxJoins: 2, MaxNestingDepth: 1})
	schema := testSchema()

	ok := v.Validate("SELECT c.name FROM customers c JOIN orders o ON o.customer_id = c.id", schema)
	assert.True(t, ok.Allowed)

	tooManyJoins := v.Validate(
		"SELECT c.name FROM customers c JOIN orders o ON o.customer_id = c.id "+
			"JOIN orders o2 ON o2.customer_id = c.id JOIN orders o3 ON o3.customer_id = c.id", schema)
	require.False(t, tooManyJoins.Allowed)
	assert.Contains(t, tooManyJoins.Violations, domain.ViolationTooComplex)

	tooDeep := v.Validate(
		"SELECT id FROM customers WHERE id IN (SELECT customer_id FROM orders WHERE customer_id IN (SELECT id FROM customers))", schema)
	require.False(t, tooDeep.Allowed)
	assert.Contains(t, tooDeep.Violations, domain.ViolationTooComplex)
}

// === Normalization ===

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "whitespace collapse and keyword folding",
			sql:  "select   id ,name\n\tfrom customers\nwhere id = 1",
			want: "SELECT id, name FROM customers WHERE id = 1",
		},
		{
			name: "comments stripped",
			sql:  "SELECT id -- pick id\nFROM customers /* all of them */",
			want: "SELECT id FROM customers",
		},
		{
			name: "string literals preserved verbatim",
			sql:  "SELECT id FROM customers WHERE name = 'O''Brien'",
			want: "SELECT id FROM customers WHERE name = 'O''Brien'",
		},
		{
			name: "quoted identifiers preserved",
			sql:  `SELECT "Name" FROM customers`,
			want: `SELECT "Name" FROM customers`,
		},
		{
			name: "function call stays tight",
			sql:  "SELECT count( * ) FROM customers",
			want: "SELECT count(*) FROM customers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Normalize(tt.sql)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Normalize(got), "normalization must be idempotent")
		})
	}
}

func TestValidate_Idempotent(t *testing.T) {
	t.Parallel()

	v := New(Config{})
	schema := testSchema()
	sql := "SELECT  c.name , o.total FROM customers c JOIN orders o ON o.customer_id = c.id"

	first := v.Validate(sql, schema)
	second := v.Validate(first.NormalizedSQL, schema)

	assert.Equal(t, first.Allowed, second.Allowed)
	assert.Equal(t, first.Violations, second.Violations)
	assert.Equal(t, first.NormalizedSQL, second.NormalizedSQL)
}

// === Executor pre-dispatch check ===

func TestIsReadOnlyStatement(t *testing.T) {
	t.Parallel()

	assert.True(t, IsReadOnlyStatement("SELECT 1"))
	assert.True(t, IsReadOnlyStatement("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.True(t, IsReadOnlyStatement("EXPLAIN SELECT 1"))
	assert.False(t, IsReadOnlyStatement("DROP TABLE t"))
	assert.False(t, IsReadOnlyStatement("SELECT 1; SELECT 2"))
	assert.False(t, IsReadOnlyStatement(""))
}
