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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		component      string
		instanceID     string
		expectedComp   string
		expectedInstID string
	}{
		{
			name:           "with instance ID set",
			component:      "pool",
			instanceID:     "instance-123",
			expectedComp:   "pool",
			expectedInstID: "instance-123",
		},
		{
			name:           "without instance ID",
			component:      "registry",
			instanceID:     "",
			expectedComp:   "registry",
			expectedInstID: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.instanceID != "" {
				t.Setenv("INSTANCE_ID", tt.instanceID)
			} else {
				if err := os.Unsetenv("INSTANCE_ID"); err != nil {
					t.Fatalf("Failed to unset INSTANCE_ID: %v", err)
				}
			}

			l := New(tt.component)

			if l.Component != tt.expectedComp {
				t.Errorf("Expected component %s, got %s", tt.expectedComp, l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("Expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("Expected container to be set from hostname")
			}
		})
	}
}

func captureEntry(t *testing.T, emit func(l *Logger)) LogEntry {
	t.Helper()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	emit(New("test-component"))

	output := buf.String()
	jsonStart := strings.Index(output, "{")
	if jsonStart == -1 {
		t.Fatalf("No JSON found in log output: %s", output)
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(output[jsonStart:])), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log: %v\nOutput: %s", err, output)
	}
	return entry
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
		message string
		target  string
		fields  map[string]interface{}
	}{
		{
			name:    "Info log",
			logFunc: (*Logger).Info,
			level:   INFO,
			message: "Query executed",
			target:  "default",
			fields:  map[string]interface{}{"row_count": 12},
		},
		{
			name:    "Error log",
			logFunc: (*Logger).Error,
			level:   ERROR,
			message: "Acquire failed",
			target:  "analytics",
			fields:  map[string]interface{}{"error_code": 500},
		},
		{
			name:    "Warn log",
			logFunc: (*Logger).Warn,
			level:   WARN,
			message: "Statement executed",
			target:  "default",
			fields:  nil,
		},
		{
			name:    "Debug log",
			logFunc: (*Logger).Debug,
			level:   DEBUG,
			message: "Retiring stale connection",
			target:  "reporting",
			fields:  map[string]interface{}{"use_count": 41},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := captureEntry(t, func(l *Logger) {
				tt.logFunc(l, tt.target, "req-1", tt.message, tt.fields)
			})

			if entry.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, entry.Message)
			}
			if entry.Target != tt.target {
				t.Errorf("Expected target %q, got %q", tt.target, entry.Target)
			}
			if entry.RequestID != "req-1" {
				t.Errorf("Expected request ID req-1, got %q", entry.RequestID)
			}
			if entry.Component != "test-component" {
				t.Errorf("Expected component test-component, got %q", entry.Component)
			}
			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("Invalid timestamp format: %s", entry.Timestamp)
			}

			for key, want := range tt.fields {
				got, ok := entry.Fields[key]
				if !ok {
					t.Errorf("Expected field %q not found", key)
					continue
				}
				// JSON numbers unmarshal as float64
				if wantInt, isInt := want.(int); isInt {
					if gotFloat, isFloat := got.(float64); !isFloat || int(gotFloat) != wantInt {
						t.Errorf("Field %q: expected %v, got %v", key, want, got)
					}
				} else if got != want {
					t.Errorf("Field %q: expected %v, got %v", key, want, got)
				}
			}
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.InfoWithDuration("default", "req-9", "Request completed", 123.45, map[string]interface{}{
			"endpoint": "/api/v1/query",
		})
	})

	if entry.Fields["duration_ms"] != 123.45 {
		t.Errorf("Expected duration_ms 123.45, got %v", entry.Fields["duration_ms"])
	}
	if entry.Fields["endpoint"] != "/api/v1/query" {
		t.Errorf("Expected endpoint /api/v1/query, got %v", entry.Fields["endpoint"])
	}
	if entry.Level != INFO {
		t.Errorf("Expected INFO level, got %s", entry.Level)
	}
}

func TestErrorWithCode(t *testing.T) {
	entry := captureEntry(t, func(l *Logger) {
		l.ErrorWithCode("default", "req-2", "Request failed", 503, &testError{msg: "pool exhausted"}, nil)
	})

	code, ok := entry.Fields["status_code"].(float64)
	if !ok || int(code) != 503 {
		t.Errorf("Expected status_code 503, got %v", entry.Fields["status_code"])
	}
	if entry.Fields["error"] != "pool exhausted" {
		t.Errorf("Expected error field, got %v", entry.Fields["error"])
	}
	if entry.Level != ERROR {
		t.Errorf("Expected ERROR level, got %s", entry.Level)
	}
}

func TestJSONMarshalError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := New("test-component")

	// Channels cannot be marshaled to JSON
	l.Info("default", "req-3", "Test message", map[string]interface{}{
		"channel": make(chan int),
	})

	if !strings.Contains(buf.String(), "Failed to marshal log entry") {
		t.Error("Expected error message about JSON marshaling failure")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
