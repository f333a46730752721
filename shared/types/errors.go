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

package types

import (
	"errors"
	"regexp"
)

// Kind classifies gateway errors into a stable taxonomy that callers and
// transport layers can branch on without string matching.
type Kind string

const (
	// KindValidation marks statements rejected by the security validator
	// before any connection was touched.
	KindValidation Kind = "validation"

	// KindConnection marks pool exhaustion, acquire timeouts, and driver
	// connect failures.
	KindConnection Kind = "connection"

	// KindQuery marks driver-reported execution failures (syntax errors,
	// constraint violations, deadlocks).
	KindQuery Kind = "query"

	// KindTimeout marks queries that exceeded their execution timeout.
	KindTimeout Kind = "timeout"

	// KindNotFound marks lookups of unknown targets or objects.
	KindNotFound Kind = "not_found"
)

// Error is the structured error returned by every gateway operation.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	// Keyword is set for validation rejections caused by a denylisted token.
	Keyword string `json:"keyword,omitempty"`

	Cause error `json:"-"`
}

// Error renders the kind and message only. The cause often carries raw
// driver text with connection details, so it stays behind Unwrap and out
// of anything shown to a caller.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a gateway error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewValidationError creates a validation rejection carrying the offending
// token, if one was identified.
func NewValidationError(message, keyword string) *Error {
	return &Error{Kind: KindValidation, Message: message, Keyword: keyword}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindQuery so that nothing escapes the taxonomy.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindQuery
}

// sensitivePatterns strip host, credential, and path fragments from driver
// error messages before they reach a caller or a log line.
var sensitivePatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)login failed for user '[^']+'`), "login failed for user '[REDACTED]'"},
	{regexp.MustCompile(`(?i)server=[^;]+`), "server=[REDACTED]"},
	{regexp.MustCompile(`(?i)uid=[^;]+`), "uid=[REDACTED]"},
	{regexp.MustCompile(`(?i)pwd=[^;]+`), "pwd=[REDACTED]"},
	{regexp.MustCompile(`(?i)password=[^;&\s]+`), "password=[REDACTED]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[REDACTED_IP]"},
}

// SanitizeErrorMessage redacts connection-string and host details embedded
// in driver error text. False positives are preferred over leaking
// credentials.
func SanitizeErrorMessage(msg string) string {
	for _, p := range sensitivePatterns {
		msg = p.re.ReplaceAllString(msg, p.replacement)
	}
	return msg
}
