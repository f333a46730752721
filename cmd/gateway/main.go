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

// Package main is the entry point for the SQLGate service, a governed
// SQL gateway: validated queries, pooled connections, cached catalog
// metadata, and a full audit trail over HTTP.
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	GATEWAY_CONFIG      - path to a YAML configuration file (optional)
//	GATEWAY_ENV_FILE    - .env file to seed the environment (default: .env)
//	GATEWAY_LISTEN_ADDR - HTTP listen address (default: :8080)
//	DB_HOST, DB_USER, DB_PASSWORD, DB_DATABASE - default target
//	DB_DATABASES        - comma-separated additional target names
package main

import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"sqlgate/gateway/server"
)

func main() {
	server.Run()
}
