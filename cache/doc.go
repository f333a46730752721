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
Package cache provides a mutex-guarded TTL cache for schema metadata.

Expired entries are purged lazily on the Get/Set path, or in bulk via
CleanupExpired; there is no background sweeper goroutine. GetOrCompute is
the memoization wrapper metadata operations compose with: it derives a
deterministic key from the operation name and arguments (see Key) and
short-circuits execution on a hit.
*/
package cache
