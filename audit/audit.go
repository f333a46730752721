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

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"sqlgate/gateway/shared/logger"
)

// Event type values recorded with every audit entry.
const (
	EventQuery      = "QUERY_EXECUTED"
	EventStatement  = "STATEMENT_EXECUTED"
	EventProcedure  = "PROCEDURE_EXECUTED"
	EventValidation = "VALIDATION_FAILED"
)

const (
	previewMaxLength          = 100
	rejectionPreviewMaxLength = 50
	hashPrefixLength          = 16
)

// Logger records an audit trail of every completed or rejected database
// operation. SQL text is stored as a truncated one-way hash plus a short
// preview, never verbatim. All methods are fire-and-forget: a logging
// failure never aborts the operation that triggered it.
type Logger struct {
	log *logger.Logger
}

// New creates an audit logger writing through the shared structured logger.
func New() *Logger {
	return &Logger{log: logger.New("audit")}
}

// HashSQL returns the first 16 hex characters of the SHA-256 digest of the
// statement. Enough to correlate repeated statements in logs without
// storing the text.
func HashSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])[:hashPrefixLength]
}

// Preview collapses the statement to one line and caps it at max runes.
// Truncation counts runes so a multibyte character is never split.
func Preview(sql string, max int) string {
	oneline := strings.Join(strings.Fields(sql), " ")
	runes := []rune(oneline)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return oneline
}

// Timer measures wall-clock duration around an operation. The caller reads
// Elapsed after the operation finishes, whether it succeeded or not, so
// failures still get a timing entry.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the wall-clock time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ElapsedMS returns the elapsed time in milliseconds for log fields.
func (t *Timer) ElapsedMS() float64 {
	return float64(t.Elapsed().Microseconds()) / 1000.0
}

// RecordQuery records a read query execution.
func (a *Logger) RecordQuery(sql, target string, d time.Duration, rowCount int, truncated bool, opErr error) {
	if a == nil || a.log == nil {
		return
	}
	fields := map[string]interface{}{
		"event":       EventQuery,
		"sql_hash":    HashSQL(sql),
		"sql_preview": Preview(sql, previewMaxLength),
		"duration_ms": durationMS(d),
		"row_count":   rowCount,
		"truncated":   truncated,
		"success":     opErr == nil,
	}
	if opErr != nil {
		fields["error"] = opErr.Error()
		a.log.Warn(target, "", "Query failed", fields)
		return
	}
	a.log.Info(target, "", "Query executed", fields)
}

// RecordStatement records a data modification. Successful modifications
// are logged at WARN for visibility in the trail.
func (a *Logger) RecordStatement(sql, kind, target string, d time.Duration, affectedRows int, opErr error) {
	if a == nil || a.log == nil {
		return
	}
	fields := map[string]interface{}{
		"event":          EventStatement,
		"sql_hash":       HashSQL(sql),
		"sql_preview":    Preview(sql, previewMaxLength),
		"statement_type": kind,
		"duration_ms":    durationMS(d),
		"affected_rows":  affectedRows,
		"success":        opErr == nil,
	}
	if opErr != nil {
		fields["error"] = opErr.Error()
		a.log.Warn(target, "", "Statement failed", fields)
		return
	}
	a.log.Warn(target, "", "Statement executed", fields)
}

// RecordProcedure records a stored procedure invocation.
func (a *Logger) RecordProcedure(name, schema, target string, d time.Duration, rowCount int, opErr error) {
	if a == nil || a.log == nil {
		return
	}
	fields := map[string]interface{}{
		"event":       EventProcedure,
		"procedure":   schema + "." + name,
		"duration_ms": durationMS(d),
		"row_count":   rowCount,
		"success":     opErr == nil,
	}
	if opErr != nil {
		fields["error"] = opErr.Error()
		a.log.Warn(target, "", "Procedure failed", fields)
		return
	}
	a.log.Info(target, "", "Procedure executed", fields)
}

// RecordRejection records a statement refused by the security validator.
// Repeated rejections against a target are visible in the trail.
func (a *Logger) RecordRejection(sql, reason, keyword, target string) {
	if a == nil || a.log == nil {
		return
	}
	fields := map[string]interface{}{
		"event":       EventValidation,
		"sql_hash":    HashSQL(sql),
		"sql_preview": Preview(sql, rejectionPreviewMaxLength),
		"error":       reason,
	}
	if keyword != "" {
		fields["blocked_keyword"] = keyword
	}
	a.log.Warn(target, "", "SQL validation failed", fields)
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
