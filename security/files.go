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
	"path/filepath"
	"strings"

	"sqlgate/gateway/shared/types"
)

// ValidateQueryFilename checks a stored query file name. Only simple names
// with a .sql extension are accepted; path separators and traversal
// sequences never match the pattern.
func ValidateQueryFilename(name string) error {
	if name == "" {
		return types.NewValidationError("filename cannot be empty", "")
	}
	if !queryFilenameRegex.MatchString(name) {
		return types.NewValidationError("invalid query filename: "+name, "")
	}
	return nil
}

// ResolveQueryFile joins the file name with the configured query directory
// and verifies the resolved path is still inside it. The pattern check
// already excludes separators; the containment check guards against a
// hostile base directory value or symlinked layout producing an escape.
func ResolveQueryFile(baseDir, name string) (string, error) {
	if err := ValidateQueryFilename(name); err != nil {
		return "", err
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", types.NewValidationError("invalid query directory", "")
	}

	resolved := filepath.Clean(filepath.Join(base, name))
	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", types.NewValidationError("invalid file path: "+name, "")
	}

	return resolved, nil
}
