package postgis

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/naming"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// Table describes one catalog table.
type Table struct {
	Schema         string `json:"schema"`
	Name           string `json:"name"`
	GeometryColumn string `json:"geometryColumn,omitempty"`
	GeometryType   string `json:"geometryType,omitempty"`
	SRID           int    `json:"srid,omitempty"`
	SizeBytes      int64  `json:"sizeBytes"`
	Size           string `json:"size"`
	ColumnCount    int    `json:"columnCount"`
	Spatial        bool   `json:"spatial"`
}

// QualifiedName returns "schema.name".
func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

const tableExistsSQL = `
SELECT EXISTS (
	SELECT 1 FROM information_schema.tables
	WHERE table_schema = $1 AND table_name = $2
)`

const listTablesSQL = `
SELECT
	t.table_schema,
	t.table_name,
	COALESCE(gc.f_geometry_column, '') AS geometry_column,
	COALESCE(gc.type, '') AS geometry_type,
	COALESCE(gc.srid, 0) AS srid,
	pg_total_relation_size(format('%%I.%%I', t.table_schema, t.table_name)::regclass) AS size_bytes,
	(SELECT count(*) FROM information_schema.columns c
	 WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name) AS column_count,
	gc.f_geometry_column IS NOT NULL AS spatial
FROM information_schema.tables t
%s JOIN geometry_columns gc
	ON gc.f_table_schema = t.table_schema AND gc.f_table_name = t.table_name
WHERE t.table_type = 'BASE TABLE'
	AND t.table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY t.table_schema, t.table_name`

// TableExists reports whether schema.name exists.
func (g *Gateway) TableExists(ctx context.Context, schema, name string) (bool, error) {
	const op = "table-exists"
	conn, err := g.requireConn(op)
	if err != nil {
		return false, err
	}
	exists, err := tableExists(ctx, conn, schema, name)
	if err != nil {
		return false, g.fail(op, domain.DatabaseError(op, err))
	}
	return exists, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tableExists(ctx context.Context, q rowQuerier, schema, name string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, tableExistsSQL, schema, name).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// DropTable drops schema.name and everything that depends on it. Dropping a
// missing table succeeds.
func (g *Gateway) DropTable(ctx context.Context, schema, name string) error {
	return g.withTx(ctx, "drop-table", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualified(schema, name)))
		return err
	})
}

// RenameTable renames schema.oldName to newName, together with its spatial
// index. newName is validated before any SQL runs.
func (g *Gateway) RenameTable(ctx context.Context, oldName, newName, schema string) error {
	const op = "rename-table"
	if !naming.ValidIdentifier(newName) {
		return g.fail(op, domain.NameError(op,
			fmt.Sprintf("%q is not a valid table name: must start with a letter and contain only letters, digits and underscores", newName)))
	}
	if schema == "" {
		schema = g.params.SchemaOrDefault()
	}

	return g.withTx(ctx, op, func(tx pgx.Tx) error {
		exists, err := tableExists(ctx, tx, schema, oldName)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NewError(domain.ErrDatabase, op,
				fmt.Sprintf("table %s.%s does not exist", schema, oldName), nil)
		}

		var taken bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
			 WHERE n.nspname = $1 AND c.relname = $2)`,
			schema, newName,
		).Scan(&taken)
		if err != nil {
			return err
		}
		if taken {
			return domain.NameError(op, fmt.Sprintf("%s.%s already exists", schema, newName))
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			qualified(schema, oldName), quote(newName))); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf("ALTER INDEX IF EXISTS %s RENAME TO %s",
			qualified(schema, indexName(oldName)), quote(indexName(newName))))
		return err
	})
}

// ListSpatialTables lists tables registered in geometry_columns.
func (g *Gateway) ListSpatialTables(ctx context.Context) ([]Table, error) {
	return g.listTables(ctx, "list-spatial-tables", "INNER")
}

// ListAllTables lists every user table, flagging the spatial ones.
func (g *Gateway) ListAllTables(ctx context.Context) ([]Table, error) {
	return g.listTables(ctx, "list-all-tables", "LEFT")
}

func (g *Gateway) listTables(ctx context.Context, op, join string) ([]Table, error) {
	conn, err := g.requireConn(op)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, fmt.Sprintf(listTablesSQL, join))
	if err != nil {
		return nil, g.fail(op, domain.DatabaseError(op, err))
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var (
			t       Table
			srid    int32
			columns int64
		)
		if err := rows.Scan(&t.Schema, &t.Name, &t.GeometryColumn, &t.GeometryType,
			&srid, &t.SizeBytes, &columns, &t.Spatial); err != nil {
			return nil, g.fail(op, domain.DatabaseError(op, err))
		}
		t.SRID = int(srid)
		t.ColumnCount = int(columns)
		t.Size = spatial.FormatSize(t.SizeBytes)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, g.fail(op, domain.DatabaseError(op, err))
	}
	return tables, nil
}

func indexName(table string) string {
	return "idx_" + table + "_" + GeometryColumn
}
