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

/*
Package types holds the error taxonomy shared by every gateway component.

# Overview

All operation failures surface as *types.Error with a stable Kind field
(validation, connection, query, timeout, not_found) so that transport
handlers can map them to responses without inspecting message text.

# Sanitization

Driver error text frequently embeds connection-string fragments (SERVER=,
UID=, PWD=) and host addresses. SanitizeErrorMessage redacts those before
an error message reaches a caller or a log line.

# Thread Safety

All types in this package are immutable after construction and safe for
concurrent use.
*/
package types
