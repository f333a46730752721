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
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sqlgate/gateway/registry"
	"sqlgate/gateway/shared/logger"
)

type ctxKey int

const requestIDKey ctxKey = 0

// Server exposes the gateway over HTTP.
type Server struct {
	reg    *registry.Registry
	log    *logger.Logger
	router *mux.Router
	http   *http.Server
}

// New builds the server and wires all routes.
func New(addr string, reg *registry.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New("server")
	}
	s := &Server{
		reg:    reg,
		log:    log,
		router: mux.NewRouter(),
	}
	// Route templates are only resolvable once mux has matched, so the
	// instrumentation runs as router middleware rather than an outer wrap.
	s.router.Use(s.instrument)
	s.routes()
	registerPoolStats(reg)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	s.http = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/query", s.handleQuery).Methods("POST")
	api.HandleFunc("/statement", s.handleStatement).Methods("POST")
	api.HandleFunc("/query-file", s.handleQueryFile).Methods("POST")
	api.HandleFunc("/procedure", s.handleProcedure).Methods("POST")
	api.HandleFunc("/tables", s.handleListTables).Methods("GET")
	api.HandleFunc("/tables/{schema}/{table}", s.handleDescribeTable).Methods("GET")
	api.HandleFunc("/procedures", s.handleListProcedures).Methods("GET")
	api.HandleFunc("/procedures/{schema}/{name}/definition", s.handleProcedureDefinition).Methods("GET")
	api.HandleFunc("/views/{schema}/{name}/definition", s.handleViewDefinition).Methods("GET")
	api.HandleFunc("/databases", s.handleListDatabases).Methods("GET")
	api.HandleFunc("/pool/stats", s.handlePoolStats).Methods("GET")
	api.HandleFunc("/cache/invalidate", s.handleInvalidateCache).Methods("POST")
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("", "", "Gateway listening", map[string]interface{}{
		"addr": s.http.Addr,
	})
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// instrument assigns every request an ID, logs it, and feeds the
// Prometheus counters with the matched route template rather than the
// raw path so identifiers do not explode the label space.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		promRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		promRequestDuration.WithLabelValues(route).
			Observe(float64(elapsed.Microseconds()) / 1000.0)

		s.log.InfoWithDuration("", requestID, "Request handled",
			float64(elapsed.Microseconds())/1000.0, map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": rec.status,
			})
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
