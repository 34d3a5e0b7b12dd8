package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sqlpilot/sqlpilot/internal/schema"
)

const tablesQuery = `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name`

const columnsQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name, ordinal_position`

const primaryKeysQuery = `
SELECT tc.table_schema, tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  USING (constraint_name, table_schema, table_name)
WHERE tc.constraint_type = 'PRIMARY KEY'
ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position`

const foreignKeysQuery = `
SELECT tc.table_schema, tc.table_name, kcu.column_name,
       ccu.table_schema AS foreign_schema, ccu.table_name AS foreign_table, ccu.column_name AS foreign_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  USING (constraint_name, table_schema, table_name)
JOIN information_schema.constraint_column_usage ccu
  USING (constraint_name)
WHERE tc.constraint_type = 'FOREIGN KEY'
ORDER BY tc.table_schema, tc.table_name, kcu.column_name`

// Source reads table, column, and key metadata from information_schema and
// assembles it into an immutable snapshot.
type Source struct {
	db *sql.DB
}

func NewSource(db *sql.DB) *Source {
	return &Source{db: db}
}

func (s *Source) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping target db: %w", err)
	}
	return nil
}

func (s *Source) Pull(ctx context.Context) (schema.Snapshot, error) {
	fragments := make([]schema.Fragment, 0)
	byName := map[string]int{}

	rows, err := s.db.QueryContext(ctx, tablesQuery)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var fragment schema.Fragment
		if err := rows.Scan(&fragment.Schema, &fragment.Table); err != nil {
			return schema.Snapshot{}, fmt.Errorf("scan table row: %w", err)
		}
		byName[fragment.QualifiedName()] = len(fragments)
		fragments = append(fragments, fragment)
	}
	if err := rows.Err(); err != nil {
		return schema.Snapshot{}, fmt.Errorf("iterate table rows: %w", err)
	}

	if err := s.attachColumns(ctx, fragments, byName); err != nil {
		return schema.Snapshot{}, err
	}
	if err := s.attachPrimaryKeys(ctx, fragments, byName); err != nil {
		return schema.Snapshot{}, err
	}
	if err := s.attachForeignKeys(ctx, fragments, byName); err != nil {
		return schema.Snapshot{}, err
	}

	return schema.Snapshot{
		Version:   uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Fragments: fragments,
	}, nil
}

func (s *Source) attachColumns(ctx context.Context, fragments []schema.Fragment, byName map[string]int) error {
	rows, err := s.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var schemaName, tableName, columnName, dataType, isNullable string
		var columnDefault sql.NullString
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType, &isNullable, &columnDefault); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}
		index, ok := byName[schemaName+"."+tableName]
		if !ok {
			continue
		}
		column := schema.Column{
			Name:     columnName,
			Type:     dataType,
			Nullable: isNullable == "YES",
		}
		if columnDefault.Valid {
			value := columnDefault.String
			column.Default = &value
		}
		fragments[index].Columns = append(fragments[index].Columns, column)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (s *Source) attachPrimaryKeys(ctx context.Context, fragments []schema.Fragment, byName map[string]int) error {
	rows, err := s.db.QueryContext(ctx, primaryKeysQuery)
	if err != nil {
		return fmt.Errorf("list primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var schemaName, tableName, columnName string
		if err := rows.Scan(&schemaName, &tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key row: %w", err)
		}
		if index, ok := byName[schemaName+"."+tableName]; ok {
			fragments[index].PrimaryKey = append(fragments[index].PrimaryKey, columnName)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary key rows: %w", err)
	}
	return nil
}

func (s *Source) attachForeignKeys(ctx context.Context, fragments []schema.Fragment, byName map[string]int) error {
	rows, err := s.db.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return fmt.Errorf("list foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var schemaName, tableName, columnName, foreignSchema, foreignTable, foreignColumn string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &foreignSchema, &foreignTable, &foreignColumn); err != nil {
			return fmt.Errorf("scan foreign key row: %w", err)
		}
		if index, ok := byName[schemaName+"."+tableName]; ok {
			fragments[index].ForeignKeys = append(fragments[index].ForeignKeys, schema.ForeignKey{
				From: columnName,
				To:   foreignSchema + "." + foreignTable + "." + foreignColumn,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign key rows: %w", err)
	}
	return nil
}
