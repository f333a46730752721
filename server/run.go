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

package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sqlgate/gateway/config"
	"sqlgate/gateway/registry"
	"sqlgate/gateway/shared/logger"
)

// Run is the service entry point: it loads configuration, starts the
// HTTP server, and blocks until SIGINT or SIGTERM, then drains
// in-flight requests and closes every pool.
//
// GATEWAY_CONFIG selects a YAML file; without it, configuration comes
// from the environment, optionally seeded by a .env file named in
// GATEWAY_ENV_FILE (default ".env").
func Run() {
	log := logger.New("gateway")

	envFile := os.Getenv("GATEWAY_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	settings, err := config.Load(os.Getenv("GATEWAY_CONFIG"), envFile)
	if err != nil {
		log.Error("", "", "Configuration error", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	reg := registry.New(settings, registry.Options{Log: log})
	srv := New(settings.ListenAddr, reg, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("", "", "Shutting down", map[string]interface{}{
			"signal": sig.String(),
		})
	case err := <-errCh:
		if err != nil {
			log.Error("", "", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("", "", "Shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := reg.CloseAll(); err != nil {
		log.Error("", "", "Pool close error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	log.Info("", "", "Gateway stopped", nil)
}
