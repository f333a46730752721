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
Package logger provides structured JSON logging for gateway components.

Each component creates its own Logger; every entry carries the component
name, instance ID, container hostname, the database target the entry
relates to, and an optional request ID for tracing one operation across
the pool, manager, and transport layers.

Entries are written as single JSON lines to stdout so the surrounding
runtime (Docker, systemd) captures them without extra plumbing.
*/
package logger
