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
Package security classifies SQL text as permitted or denied before any
statement reaches a live connection.

Validation is lexical only: first-keyword classification (SELECT/WITH for
reads, INSERT/UPDATE/DELETE for writes), a word-boundary denylist of
schema-mutation, permission, administrative, and cross-source keywords,
and a refusal of the xp_/sp_ system procedure prefixes. There is no SQL
parser behind this; a keyword inside a string literal still rejects the
statement, which is the intended bias.

Identifier, procedure-name, and query-file-name validation round out the
surface. All functions are pure; every rejection is a *types.Error with
KindValidation carrying the offending token.
*/
package security
