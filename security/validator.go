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

package security

import (
	"fmt"
	"regexp"
	"strings"

	"sqlgate/gateway/shared/types"
)

// BlockedKeywords are SQL keywords refused in any statement, regardless of
// position. Matches inside string literals are rejected too; false
// positives are an accepted tradeoff for safety.
var BlockedKeywords = []string{
	"DROP",
	"TRUNCATE",
	"ALTER",
	"CREATE",
	"GRANT",
	"REVOKE",
	"SHUTDOWN",
	"BACKUP",
	"RESTORE",
	"DBCC",
	"OPENROWSET",
	"OPENQUERY",
	"OPENDATASOURCE",
	"BULK",
	"KILL",
}

// blockedKeywordRegex matches any denylisted keyword on a word boundary.
var blockedKeywordRegex = regexp.MustCompile(
	`(?i)\b(` + strings.Join(BlockedKeywords, "|") + `)\b`)

// blockedPrefixRegex matches identifiers using the SQL Server system
// procedure prefixes (xp_cmdshell, sp_configure, ...).
var blockedPrefixRegex = regexp.MustCompile(`(?i)\b(xp_|sp_)\w+`)

// identifierRegex is the full-match rule for table, column, schema, and
// parameter names.
var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// queryFilenameRegex is the full-match rule for stored query file names.
var queryFilenameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+\.sql$`)

// allowedQueryKeywords are the statement openers accepted for read-only
// execution.
var allowedQueryKeywords = map[string]bool{
	"SELECT": true,
	"WITH":   true,
}

// allowedStatementKeywords are the statement openers accepted for data
// modification.
var allowedStatementKeywords = map[string]bool{
	"INSERT": true,
	"UPDATE": true,
	"DELETE": true,
}

// ValidateQuery validates raw SQL text before it is allowed anywhere near a
// connection. When allowModifications is false only SELECT/WITH statements
// pass; otherwise INSERT/UPDATE/DELETE are accepted as well. The denylist
// and system-procedure scans apply in both modes.
func ValidateQuery(sql string, allowModifications bool) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return types.NewValidationError("query cannot be empty", "")
	}

	first := FirstKeyword(sql)
	if first == "" {
		return types.NewValidationError("query contains no statement", "")
	}

	allowed := allowedQueryKeywords[first]
	if allowModifications {
		allowed = allowed || allowedStatementKeywords[first]
	}
	if !allowed {
		return types.NewValidationError(
			fmt.Sprintf("statement type '%s' not allowed", first), first)
	}

	if m := blockedKeywordRegex.FindString(sql); m != "" {
		keyword := strings.ToUpper(m)
		return types.NewValidationError(
			"blocked keyword detected: "+keyword, keyword)
	}

	if m := blockedPrefixRegex.FindString(sql); m != "" {
		return types.NewValidationError(
			"system procedure calls not allowed: "+m, strings.ToUpper(m))
	}

	if err := rejectMultiStatement(trimmed); err != nil {
		return err
	}

	return nil
}

// rejectMultiStatement refuses batched input. The row-limit rewrite wraps
// the statement in a subquery, which is only correct for a single
// SELECT/WITH expression; a second statement hidden after a separator
// would be silently mis-wrapped otherwise. Trailing separators are
// tolerated.
func rejectMultiStatement(sql string) error {
	body := strings.TrimRight(sql, "; \t\r\n")
	if strings.Contains(body, ";") {
		return types.NewValidationError(
			"multiple statements are not allowed", ";")
	}
	return nil
}

// FirstKeyword returns the uppercased first keyword token of the
// statement, after skipping leading whitespace and SQL comments. Returns
// an empty string when the input holds no statement at all.
func FirstKeyword(sql string) string {
	rest := stripLeadingComments(sql)
	end := 0
	for end < len(rest) {
		c := rest[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			end++
			continue
		}
		break
	}
	return strings.ToUpper(rest[:end])
}

// stripLeadingComments removes leading whitespace, -- line comments, and
// /* */ block comments so keyword extraction sees the real statement.
func stripLeadingComments(sql string) string {
	rest := sql
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		switch {
		case strings.HasPrefix(rest, "--"):
			idx := strings.IndexByte(rest, '\n')
			if idx == -1 {
				return ""
			}
			rest = rest[idx+1:]
		case strings.HasPrefix(rest, "/*"):
			idx := strings.Index(rest, "*/")
			if idx == -1 {
				return ""
			}
			rest = rest[idx+2:]
		default:
			return rest
		}
	}
}

// ValidateIdentifier checks a table, column, schema, or parameter name.
// Only letters, digits, and underscores are allowed, and the name must not
// be a denylisted keyword.
func ValidateIdentifier(name string) error {
	if name == "" {
		return types.NewValidationError("identifier cannot be empty", "")
	}
	if !identifierRegex.MatchString(name) {
		return types.NewValidationError("invalid identifier: "+name, "")
	}
	upper := strings.ToUpper(name)
	for _, keyword := range BlockedKeywords {
		if upper == keyword {
			return types.NewValidationError(
				"reserved keyword not allowed as identifier: "+name, keyword)
		}
	}
	return nil
}

// QuoteIdentifier validates schema and name and returns the bracket-quoted
// form used by the target dialect, e.g. [dbo].[Users].
func QuoteIdentifier(schema, name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(schema); err != nil {
		return "", err
	}
	return "[" + schema + "].[" + name + "]", nil
}

// ValidateProcedureName refuses built-in system procedures by prefix.
func ValidateProcedureName(name string) error {
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "XP_") || strings.HasPrefix(upper, "SP_") {
		return types.NewValidationError(
			"system procedure not allowed: "+name, "")
	}
	return nil
}
