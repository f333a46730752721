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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"sqlgate/gateway/shared/types"
)

type apiResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Keyword string `json:"keyword,omitempty"`
}

type queryRequest struct {
	SQL      string `json:"sql"`
	Params   []any  `json:"params,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Database string `json:"database,omitempty"`
}

type statementRequest struct {
	SQL      string `json:"sql"`
	Params   []any  `json:"params,omitempty"`
	Database string `json:"database,omitempty"`
}

type queryFileRequest struct {
	Filename string `json:"filename"`
	Limit    int    `json:"limit,omitempty"`
	Database string `json:"database,omitempty"`
}

type procedureRequest struct {
	Schema   string         `json:"schema,omitempty"`
	Name     string         `json:"name"`
	Params   map[string]any `json:"params,omitempty"`
	Database string         `json:"database,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.reg.Get(r.Context(), req.Database)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := m.ExecuteQuery(r.Context(), req.SQL, req.Params, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, res)
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	var req statementRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.reg.Get(r.Context(), req.Database)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := m.ExecuteStatement(r.Context(), req.SQL, req.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, res)
}

func (s *Server) handleQueryFile(w http.ResponseWriter, r *http.Request) {
	var req queryFileRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.reg.Get(r.Context(), req.Database)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := m.ExecuteQueryFile(r.Context(), req.Filename, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, res)
}

func (s *Server) handleProcedure(w http.ResponseWriter, r *http.Request) {
	var req procedureRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.reg.Get(r.Context(), req.Database)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := m.ExecuteProcedure(r.Context(), req.Schema, req.Name, req.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, res)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	m, err := s.reg.Get(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tables, err := m.ListTables(r.Context(), r.URL.Query().Get("schema"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, map[string]any{"tables": tables, "count": len(tables)})
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := s.reg.Get(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	desc, err := m.DescribeTable(r.Context(), vars["schema"], vars["table"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, desc)
}

func (s *Server) handleListProcedures(w http.ResponseWriter, r *http.Request) {
	m, err := s.reg.Get(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	procs, err := m.ListProcedures(r.Context(), r.URL.Query().Get("schema"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, map[string]any{"procedures": procs, "count": len(procs)})
}

func (s *Server) handleProcedureDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := s.reg.Get(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := m.GetProcedureDefinition(r.Context(), vars["schema"], vars["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, map[string]any{"definition": def})
}

func (s *Server) handleViewDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	m, err := s.reg.Get(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	def, err := m.GetViewDefinition(r.Context(), vars["schema"], vars["name"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, map[string]any{"definition": def})
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	targets := s.reg.List()
	out := make([]map[string]any, 0, len(targets))
	for _, t := range targets {
		out = append(out, map[string]any{
			"name":     t.Name,
			"host":     t.Host,
			"port":     t.Port,
			"database": t.Database,
			"driver":   t.Driver,
		})
	}
	s.writeData(w, r, map[string]any{"databases": out, "count": len(out)})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, r, s.reg.Stats())
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	m, err := s.reg.Get(r.Context(), r.URL.Query().Get("database"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, r, map[string]any{"invalidated": m.InvalidateCache()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"service":   "sqlgate",
		"timestamp": time.Now().UTC(),
	})
}

// decode parses the JSON body, answering a validation error itself when
// the body is malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, types.NewValidationError("invalid request body: "+err.Error(), ""))
		return false
	}
	return true
}

func (s *Server) writeData(w http.ResponseWriter, r *http.Request, data any) {
	s.writeJSON(w, http.StatusOK, apiResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(r),
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	if kind == types.KindValidation {
		promRejectedStatements.Inc()
	}

	body := &apiError{Kind: string(kind), Message: err.Error()}
	var ge *types.Error
	if errors.As(err, &ge) {
		body.Message = ge.Message
		body.Keyword = ge.Keyword
	}

	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.log.ErrorWithCode("", requestID(r), "Request failed", status, err, map[string]interface{}{
			"kind": string(kind),
		})
	}

	s.writeJSON(w, status, apiResponse{
		Success:   false,
		Error:     body,
		RequestID: requestID(r),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("", body.RequestID, "Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}
