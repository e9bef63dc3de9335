package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"askdb/internal/domain"
)

// ConnProvider resolves a connection id to an open database.
// Implemented by db.ConnectionRegistry.
type ConnProvider interface {
	Conn(connectionID string) (*sql.DB, bool)
}

// SQLIntrospector captures snapshots from any database/sql target. It reads
// the information_schema catalog where available and falls back to SQLite's
// pragma interface otherwise.
type SQLIntrospector struct {
	conns  ConnProvider
	logger *slog.Logger
}

// NewSQLIntrospector creates an introspector over the connection registry.
func NewSQLIntrospector(conns ConnProvider, logger *slog.Logger) *SQLIntrospector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLIntrospector{conns: conns, logger: logger}
}

// Introspect builds a SchemaSnapshot for the connection. Primary-key and
// foreign-key metadata is best-effort: engines with partial
// information_schema support still yield usable table/column descriptors.
func (in *SQLIntrospector) Introspect(ctx context.Context, connectionID string) (*domain.SchemaSnapshot, error) {
	conn, ok := in.conns.Conn(connectionID)
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connectionID)
	}

	tables, err := in.readInformationSchema(ctx, conn)
	if err != nil {
		in.logger.Debug("information_schema unavailable, trying sqlite catalog",
			"connection_id", connectionID, "error", err)
		tables, err = in.readSQLiteCatalog(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("introspect %q: %w", connectionID, err)
		}
	}

	return &domain.SchemaSnapshot{
		ConnectionID: connectionID,
		Tables:       tables,
		Hash:         domain.ComputeHash(tables),
	}, nil
}

// readInformationSchema reads tables, columns, and constraints from the
// standard catalog views.
func (in *SQLIntrospector) readInformationSchema(ctx context.Context, conn *sql.DB) ([]domain.TableDescriptor, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var (
		order  []string
		byName = make(map[string]*domain.TableDescriptor)
	)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, err
		}
		t, ok := byName[table]
		if !ok {
			t = &domain.TableDescriptor{Name: table}
			byName[table] = t
			order = append(order, table)
		}
		t.Columns = append(t.Columns, domain.ColumnDescriptor{
			Name:     column,
			Type:     strings.ToUpper(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no tables visible in information_schema")
	}

	in.readConstraints(ctx, conn, byName)

	tables := make([]domain.TableDescriptor, len(order))
	for i, name := range order {
		tables[i] = *byName[name]
	}
	return tables, nil
}

// readConstraints fills primary and foreign keys. Failures degrade to empty
// key metadata rather than failing the snapshot.
func (in *SQLIntrospector) readConstraints(ctx context.Context, conn *sql.DB, byName map[string]*domain.TableDescriptor) {
	pkRows, err := conn.QueryContext(ctx, `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`)
	if err == nil {
		defer pkRows.Close() //nolint:errcheck
		for pkRows.Next() {
			var table, column string
			if pkRows.Scan(&table, &column) == nil {
				if t, ok := byName[table]; ok {
					t.PrimaryKey = append(t.PrimaryKey, column)
				}
			}
		}
	} else {
		in.logger.Debug("primary key metadata unavailable", "error", err)
	}

	fkRows, err := conn.QueryContext(ctx, `
		SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY'`)
	if err == nil {
		defer fkRows.Close() //nolint:errcheck
		for fkRows.Next() {
			var table, column, refTable, refColumn string
			if fkRows.Scan(&table, &column, &refTable, &refColumn) == nil {
				if t, ok := byName[table]; ok {
					t.ForeignKeys = append(t.ForeignKeys, domain.ForeignKey{
						Column: column, RefTable: refTable, RefColumn: refColumn,
					})
				}
			}
		}
	} else {
		in.logger.Debug("foreign key metadata unavailable", "error", err)
	}
}

// readSQLiteCatalog reads the schema through sqlite_master and pragmas.
func (in *SQLIntrospector) readSQLiteCatalog(ctx context.Context, conn *sql.DB) ([]domain.TableDescriptor, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name NOT LIKE 'goose_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]domain.TableDescriptor, 0, len(names))
	for _, name := range names {
		t := domain.TableDescriptor{Name: name}

		colRows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, name))
		if err != nil {
			return nil, err
		}
		for colRows.Next() {
			var (
				cid     int
				cname   string
				ctype   string
				notNull int
				dflt    sql.NullString
				pk      int
			)
			if err := colRows.Scan(&cid, &cname, &ctype, &notNull, &dflt, &pk); err != nil {
				_ = colRows.Close()
				return nil, err
			}
			t.Columns = append(t.Columns, domain.ColumnDescriptor{
				Name:     cname,
				Type:     strings.ToUpper(ctype),
				Nullable: notNull == 0,
			})
			if pk > 0 {
				t.PrimaryKey = append(t.PrimaryKey, cname)
			}
		}
		_ = colRows.Close()

		fkRows, err := conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, name))
		if err == nil {
			for fkRows.Next() {
				var (
					id, seq           int
					refTable, from, to string
					onUpdate, onDelete, match string
				)
				if fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match) == nil {
					t.ForeignKeys = append(t.ForeignKeys, domain.ForeignKey{
						Column: from, RefTable: refTable, RefColumn: to,
					})
				}
			}
			_ = fkRows.Close()
		}

		tables = append(tables, t)
	}
	return tables, nil
}
