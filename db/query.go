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
	"errors"
	"fmt"
	"os"
	"strings"

	"sqlgate/gateway/audit"
	"sqlgate/gateway/config"
	"sqlgate/gateway/security"
	"sqlgate/gateway/shared/types"
)

// QueryResult is the outcome of a read query.
type QueryResult struct {
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"row_count"`
	Truncated  bool             `json:"truncated"`
	DurationMS float64          `json:"duration_ms"`
}

// StatementResult is the outcome of a data modification.
type StatementResult struct {
	RowsAffected int64   `json:"rows_affected"`
	Kind         string  `json:"kind"`
	DurationMS   float64 `json:"duration_ms"`
}

// ExecuteQuery validates and runs a read-only query, capping the
// result at limit rows. Values always travel as bound parameters. A
// limit of zero or less uses the configured default; the hard ceiling
// applies either way. Truncated reports whether the database had more
// rows than the cap.
func (m *Manager) ExecuteQuery(ctx context.Context, sqlText string, params []any, limit int) (*QueryResult, error) {
	if err := m.validate(sqlText, false); err != nil {
		return nil, err
	}
	limit = m.clampLimit(limit)

	timer := audit.NewTimer()
	res, err := m.runQuery(ctx, limitQuery(m.target.Driver, sqlText, limit+1), params, limit)
	m.audit.RecordQuery(sqlText, m.target.Name, timer.Elapsed(),
		resultCount(res), res != nil && res.Truncated, err)
	if err != nil {
		return nil, err
	}
	res.DurationMS = timer.ElapsedMS()
	return res, nil
}

// ExecuteStatement validates and runs a single INSERT, UPDATE or
// DELETE inside its own transaction, committing on success and rolling
// back on failure. Values always travel as bound parameters.
func (m *Manager) ExecuteStatement(ctx context.Context, sqlText string, params []any) (*StatementResult, error) {
	if err := m.validate(sqlText, true); err != nil {
		return nil, err
	}
	kind := security.FirstKeyword(sqlText)
	if kind == "SELECT" || kind == "WITH" {
		// Reads belong on the query path where row limiting applies.
		rej := types.NewValidationError("use execute_query for read statements", kind)
		m.audit.RecordRejection(sqlText, rej.Message, kind, m.target.Name)
		return nil, rej
	}

	timer := audit.NewTimer()
	affected, err := m.runStatement(ctx, sqlText, params)
	m.audit.RecordStatement(sqlText, kind, m.target.Name, timer.Elapsed(), int(affected), err)
	if err != nil {
		return nil, err
	}
	return &StatementResult{
		RowsAffected: affected,
		Kind:         kind,
		DurationMS:   timer.ElapsedMS(),
	}, nil
}

// ExecuteQueryFile loads a vetted .sql file from the query directory
// and runs it through ExecuteQuery. The filename must be a bare name;
// path traversal is rejected before touching the filesystem.
func (m *Manager) ExecuteQueryFile(ctx context.Context, name string, limit int) (*QueryResult, error) {
	if err := security.ValidateQueryFilename(name); err != nil {
		return nil, err
	}
	path, err := security.ResolveQueryFile(m.queryDir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, types.NewError(types.KindNotFound,
				fmt.Sprintf("query file %q not found", name), err)
		}
		return nil, types.NewError(types.KindQuery,
			fmt.Sprintf("read query file %q: %s", name, types.SanitizeErrorMessage(err.Error())), err)
	}
	sqlText := strings.TrimSpace(string(data))
	if sqlText == "" {
		return nil, types.NewValidationError(fmt.Sprintf("query file %q is empty", name), "")
	}
	// Stored query files are self-contained; they take no parameters.
	return m.ExecuteQuery(ctx, sqlText, nil, limit)
}

// validate runs the security validator and records rejections in the
// audit trail.
func (m *Manager) validate(sqlText string, allowModifications bool) error {
	err := security.ValidateQuery(sqlText, allowModifications)
	if err == nil {
		return nil
	}
	var verr *types.Error
	keyword := ""
	if errors.As(err, &verr) {
		keyword = verr.Keyword
	}
	m.audit.RecordRejection(sqlText, err.Error(), keyword, m.target.Name)
	return err
}

func (m *Manager) clampLimit(limit int) int {
	if limit <= 0 {
		limit = m.rowLimit
	}
	if limit > config.MaxRowLimit {
		limit = config.MaxRowLimit
	}
	return limit
}

// runQuery executes the already-limited SQL and scans up to limit rows,
// detecting truncation via the sentinel extra row.
func (m *Manager) runQuery(ctx context.Context, limited string, params []any, limit int) (*QueryResult, error) {
	pc, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.pool.Release(pc)

	execCtx, cancel := m.queryCtx(ctx)
	defer cancel()

	rows, err := pc.QueryContext(execCtx, limited, params...)
	if err != nil {
		return nil, m.execErr(execCtx, "query", err)
	}
	defer rows.Close()

	res, err := scanRows(rows, limit)
	if err != nil {
		return nil, m.execErr(execCtx, "query", err)
	}
	return res, nil
}

func (m *Manager) runStatement(ctx context.Context, sqlText string, params []any) (int64, error) {
	pc, err := m.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer m.pool.Release(pc)

	execCtx, cancel := m.queryCtx(ctx)
	defer cancel()

	tx, err := pc.BeginTx(execCtx, nil)
	if err != nil {
		return 0, m.execErr(execCtx, "statement", err)
	}

	result, err := tx.ExecContext(execCtx, sqlText, params...)
	if err != nil {
		tx.Rollback()
		pc.Done()
		return 0, m.execErr(execCtx, "statement", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Driver cannot report a count; the write still commits.
		affected = -1
	}
	if err := tx.Commit(); err != nil {
		pc.Done()
		return 0, m.execErr(execCtx, "statement", err)
	}
	pc.Done()
	return affected, nil
}

// limitQuery wraps the statement in a derived table capped at n rows.
// Trailing semicolons are stripped so the wrapper parses.
func limitQuery(driver, sqlText string, n int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(sqlText), "; \t\r\n")
	switch driver {
	case "mysql", "postgres":
		return fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", trimmed, n)
	default:
		return fmt.Sprintf("SELECT TOP %d * FROM (%s) AS _limited", n, trimmed)
	}
}

// scanRows reads at most limit rows into generic maps. Byte slices are
// converted to strings so results marshal as text rather than base64.
func scanRows(rows *sql.Rows, limit int) (*QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Columns: cols, Rows: []map[string]any{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

func resultCount(res *QueryResult) int {
	if res == nil {
		return 0
	}
	return res.RowCount
}
