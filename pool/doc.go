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

// Package pool implements a bounded connection pool with lazy
// retirement: connections past their lifetime, idle too long, or
// failing a periodic health check are closed and replaced at the next
// acquire rather than by a background sweeper. Connections returned
// with an open transaction are rolled back before reuse.
package pool
