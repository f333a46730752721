// Copyright 2025 SQLGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sqlgate/gateway/cache"
	"sqlgate/gateway/security"
	"sqlgate/gateway/shared/types"
)

// TableInfo is one entry from the schema catalog.
type TableInfo struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

// ColumnInfo describes one column of a table or view.
type ColumnInfo struct {
	Name      string  `json:"name"`
	DataType  string  `json:"data_type"`
	MaxLength *int64  `json:"max_length,omitempty"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	Position  int     `json:"position"`
}

// TableDescription is the column layout of one table or view.
type TableDescription struct {
	Schema  string       `json:"schema"`
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ProcedureInfo is one stored procedure from the routine catalog.
type ProcedureInfo struct {
	Schema   string     `json:"schema"`
	Name     string     `json:"name"`
	Created  *time.Time `json:"created,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`
}

// ListTables returns every table and view visible to the gateway
// login, cached for the metadata TTL. A non-empty schema narrows the
// listing to that schema.
func (m *Manager) ListTables(ctx context.Context, schema string) ([]TableInfo, error) {
	var args []any
	if schema != "" {
		if err := security.ValidateIdentifier(schema); err != nil {
			return nil, err
		}
		args = []any{schema}
	}

	return cache.GetOrCompute(m.cache, cache.Key("list_tables", schema), 0, func() ([]TableInfo, error) {
		query := `SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE
			FROM INFORMATION_SCHEMA.TABLES`
		if schema != "" {
			query += "\n\t\t\tWHERE TABLE_SCHEMA = " + m.placeholder(1)
		}
		query += "\n\t\t\tORDER BY TABLE_SCHEMA, TABLE_NAME"

		var tables []TableInfo
		err := m.metadataQuery(ctx, query, args, func(rows *sql.Rows) error {
			var t TableInfo
			if err := rows.Scan(&t.Schema, &t.Name, &t.Type); err != nil {
				return err
			}
			tables = append(tables, t)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return tables, nil
	})
}

// DescribeTable returns the column layout of one table, cached per
// schema and table. Unknown tables report a not-found error rather
// than an empty description.
func (m *Manager) DescribeTable(ctx context.Context, schema, table string) (*TableDescription, error) {
	if schema == "" {
		schema = "dbo"
	}
	if err := security.ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	if err := security.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	key := cache.Key("describe_table", schema, table)
	return cache.GetOrCompute(m.cache, key, 0, func() (*TableDescription, error) {
		query := fmt.Sprintf(`SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH,
				IS_NULLABLE, COLUMN_DEFAULT, ORDINAL_POSITION
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
			ORDER BY ORDINAL_POSITION`, m.placeholder(1), m.placeholder(2))

		desc := &TableDescription{Schema: schema, Name: table}
		err := m.metadataQuery(ctx, query, []any{schema, table}, func(rows *sql.Rows) error {
			var (
				c         ColumnInfo
				maxLen    sql.NullInt64
				nullable  string
				defaultTo sql.NullString
			)
			if err := rows.Scan(&c.Name, &c.DataType, &maxLen, &nullable, &defaultTo, &c.Position); err != nil {
				return err
			}
			if maxLen.Valid {
				c.MaxLength = &maxLen.Int64
			}
			if defaultTo.Valid {
				c.Default = &defaultTo.String
			}
			c.Nullable = nullable == "YES"
			desc.Columns = append(desc.Columns, c)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(desc.Columns) == 0 {
			return nil, types.NewError(types.KindNotFound,
				fmt.Sprintf("table %s.%s not found", schema, table), nil)
		}
		return desc, nil
	})
}

// ListProcedures returns every stored procedure in the routine
// catalog, cached for the metadata TTL. A non-empty schema narrows the
// listing to that schema.
func (m *Manager) ListProcedures(ctx context.Context, schema string) ([]ProcedureInfo, error) {
	var args []any
	if schema != "" {
		if err := security.ValidateIdentifier(schema); err != nil {
			return nil, err
		}
		args = []any{schema}
	}

	return cache.GetOrCompute(m.cache, cache.Key("list_procedures", schema), 0, func() ([]ProcedureInfo, error) {
		query := `SELECT ROUTINE_SCHEMA, ROUTINE_NAME, CREATED, LAST_ALTERED
			FROM INFORMATION_SCHEMA.ROUTINES
			WHERE ROUTINE_TYPE = 'PROCEDURE'`
		if schema != "" {
			query += "\n\t\t\tAND ROUTINE_SCHEMA = " + m.placeholder(1)
		}
		query += "\n\t\t\tORDER BY ROUTINE_SCHEMA, ROUTINE_NAME"

		var procs []ProcedureInfo
		err := m.metadataQuery(ctx, query, args, func(rows *sql.Rows) error {
			var (
				p        ProcedureInfo
				created  sql.NullTime
				modified sql.NullTime
			)
			if err := rows.Scan(&p.Schema, &p.Name, &created, &modified); err != nil {
				return err
			}
			if created.Valid {
				p.Created = &created.Time
			}
			if modified.Valid {
				p.Modified = &modified.Time
			}
			procs = append(procs, p)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return procs, nil
	})
}

// GetViewDefinition returns the SQL body of a view as stored in the
// catalog.
func (m *Manager) GetViewDefinition(ctx context.Context, schema, view string) (string, error) {
	if schema == "" {
		schema = "dbo"
	}
	if err := security.ValidateIdentifier(schema); err != nil {
		return "", err
	}
	if err := security.ValidateIdentifier(view); err != nil {
		return "", err
	}

	key := cache.Key("view_definition", schema, view)
	return cache.GetOrCompute(m.cache, key, 0, func() (string, error) {
		query := fmt.Sprintf(`SELECT VIEW_DEFINITION FROM INFORMATION_SCHEMA.VIEWS
			WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s`, m.placeholder(1), m.placeholder(2))
		return m.lookupDefinition(ctx, query, schema, view,
			fmt.Sprintf("view %s.%s not found", schema, view))
	})
}

// GetProcedureDefinition returns the SQL body of a stored procedure as
// stored in the catalog.
func (m *Manager) GetProcedureDefinition(ctx context.Context, schema, name string) (string, error) {
	if schema == "" {
		schema = "dbo"
	}
	if err := security.ValidateIdentifier(schema); err != nil {
		return "", err
	}
	if err := security.ValidateIdentifier(name); err != nil {
		return "", err
	}

	key := cache.Key("procedure_definition", schema, name)
	return cache.GetOrCompute(m.cache, key, 0, func() (string, error) {
		query := fmt.Sprintf(`SELECT ROUTINE_DEFINITION FROM INFORMATION_SCHEMA.ROUTINES
			WHERE ROUTINE_SCHEMA = %s AND ROUTINE_NAME = %s
			AND ROUTINE_TYPE = 'PROCEDURE'`, m.placeholder(1), m.placeholder(2))
		return m.lookupDefinition(ctx, query, schema, name,
			fmt.Sprintf("procedure %s.%s not found", schema, name))
	})
}

func (m *Manager) lookupDefinition(ctx context.Context, query, schema, name, notFound string) (string, error) {
	var def sql.NullString
	found := false
	err := m.metadataQuery(ctx, query, []any{schema, name}, func(rows *sql.Rows) error {
		found = true
		return rows.Scan(&def)
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", types.NewError(types.KindNotFound, notFound, nil)
	}
	if !def.Valid {
		// Definitions over the catalog column size come back NULL.
		return "", types.NewError(types.KindNotFound, notFound+" (definition unavailable)", nil)
	}
	return def.String, nil
}

// metadataQuery runs a catalog query through the pool and feeds each
// row to scan.
func (m *Manager) metadataQuery(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	pc, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer m.pool.Release(pc)

	execCtx, cancel := m.queryCtx(ctx)
	defer cancel()

	rows, err := pc.QueryContext(execCtx, query, args...)
	if err != nil {
		return m.execErr(execCtx, "metadata query", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return m.execErr(execCtx, "metadata query", err)
		}
	}
	if err := rows.Err(); err != nil {
		return m.execErr(execCtx, "metadata query", err)
	}
	return nil
}

// placeholder returns the driver's positional parameter marker.
func (m *Manager) placeholder(n int) string {
	switch m.target.Driver {
	case "postgres":
		return fmt.Sprintf("$%d", n)
	case "sqlserver":
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}
