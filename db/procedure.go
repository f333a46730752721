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
	"fmt"
	"sort"
	"strings"

	"sqlgate/gateway/audit"
	"sqlgate/gateway/security"
)

// ExecuteProcedure calls a stored procedure with named parameters and
// returns its first result set, capped at the default row limit.
// Parameter values always travel as bind arguments; only validated
// identifiers are interpolated into the call text.
func (m *Manager) ExecuteProcedure(ctx context.Context, schema, name string, params map[string]any) (*QueryResult, error) {
	if schema == "" {
		schema = "dbo"
	}
	if err := security.ValidateIdentifier(schema); err != nil {
		return nil, err
	}
	// The name reaches the call text on every dialect, so it must pass
	// identifier validation before any rendering happens.
	if err := security.ValidateIdentifier(name); err != nil {
		m.audit.RecordRejection(name, err.Error(), "", m.target.Name)
		return nil, err
	}
	if err := security.ValidateProcedureName(name); err != nil {
		m.audit.RecordRejection(name, err.Error(), "", m.target.Name)
		return nil, err
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		if err := security.ValidateIdentifier(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	call, args, err := m.buildCall(schema, name, keys, params)
	if err != nil {
		return nil, err
	}

	timer := audit.NewTimer()
	res, err := m.runProcedure(ctx, call, args)
	m.audit.RecordProcedure(name, schema, m.target.Name, timer.Elapsed(), resultCount(res), err)
	if err != nil {
		return nil, err
	}
	res.DurationMS = timer.ElapsedMS()
	return res, nil
}

// buildCall renders the driver-specific invocation. SQL Server gets an
// EXEC with named parameters; MySQL and PostgreSQL use positional CALL
// syntax in sorted key order.
func (m *Manager) buildCall(schema, name string, keys []string, params map[string]any) (string, []any, error) {
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, params[k])
	}

	switch m.target.Driver {
	case "mysql", "postgres":
		marks := make([]string, len(keys))
		for i := range keys {
			marks[i] = m.placeholder(i + 1)
		}
		return fmt.Sprintf("CALL %s.%s(%s)", schema, name, strings.Join(marks, ", ")), args, nil
	default:
		quoted, err := security.QuoteIdentifier(schema, name)
		if err != nil {
			return "", nil, err
		}
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("@%s = %s", k, m.placeholder(i+1))
		}
		call := "EXEC " + quoted
		if len(parts) > 0 {
			call += " " + strings.Join(parts, ", ")
		}
		return call, args, nil
	}
}

func (m *Manager) runProcedure(ctx context.Context, call string, args []any) (*QueryResult, error) {
	pc, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer m.pool.Release(pc)

	execCtx, cancel := m.queryCtx(ctx)
	defer cancel()

	rows, err := pc.QueryContext(execCtx, call, args...)
	if err != nil {
		return nil, m.execErr(execCtx, "procedure", err)
	}
	defer rows.Close()

	res, err := scanRows(rows, m.rowLimit)
	if err != nil {
		return nil, m.execErr(execCtx, "procedure", err)
	}
	return res, nil
}
