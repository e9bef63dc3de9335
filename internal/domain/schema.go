package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ColumnDescriptor describes one column of an introspected table.
type ColumnDescriptor struct {
	Name     string
	Type     string
	Nullable bool
}

// ForeignKey describes a single-column foreign key relationship.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// TableDescriptor describes one table of an introspected schema.
type TableDescriptor struct {
	Name        string
	Columns     []ColumnDescriptor
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// Column returns the named column descriptor, matching case-insensitively.
func (t *TableDescriptor) Column(name string) (*ColumnDescriptor, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the ordered list of column names.
func (t *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SchemaSnapshot is an immutable capture of a connection's table metadata.
// Once built it is never mutated in place; refreshes replace the whole value.
type SchemaSnapshot struct {
	ConnectionID string
	Tables       []TableDescriptor
	Hash         string
	CapturedAt   time.Time
}

// Table returns the named table descriptor, matching case-insensitively.
func (s *SchemaSnapshot) Table(name string) (*TableDescriptor, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TableNames returns the ordered list of table names.
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// HasColumn reports whether any table in the snapshot has the given column.
// Used for resolving unqualified column references.
func (s *SchemaSnapshot) HasColumn(column string) bool {
	for i := range s.Tables {
		if _, ok := s.Tables[i].Column(column); ok {
			return true
		}
	}
	return false
}

// ComputeHash returns a content hash over the canonical serialization of the
// table structure. Downstream consumers compare hashes to detect drift.
func ComputeHash(tables []TableDescriptor) string {
	var b strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&b, "table:%s\n", strings.ToLower(t.Name))
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "col:%s:%s:%t\n", strings.ToLower(c.Name), strings.ToLower(c.Type), c.Nullable)
		}
		for _, pk := range t.PrimaryKey {
			fmt.Fprintf(&b, "pk:%s\n", strings.ToLower(pk))
		}
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "fk:%s:%s:%s\n", strings.ToLower(fk.Column), strings.ToLower(fk.RefTable), strings.ToLower(fk.RefColumn))
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
