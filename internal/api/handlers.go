// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/logging"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/operations"
	"github.com/PrivateAbushaqra/Finspilot-sub002/internal/progress"
)

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// operationAccepted is the body returned by all trigger endpoints.
type operationAccepted struct {
	OperationID string `json:"operation_id"`
	Kind        string `json:"kind"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: status < 400, Data: data}); err != nil {
		logging.Err(err).Msg("write response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: false, Error: msg}); err != nil {
		logging.Err(err).Msg("write error response")
	}
}

// decodeBody parses and validates a JSON request body. An empty body is
// accepted and leaves the destination at its zero value.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return s.validate.Struct(dst)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartBackup(w http.ResponseWriter, r *http.Request) {
	var req operations.BackupRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opID, err := s.manager.StartBackup(req)
	if err != nil {
		s.respondStartError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, operationAccepted{OperationID: opID, Kind: string(progress.KindBackup)})
}

func (s *Server) handleStartRestore(w http.ResponseWriter, r *http.Request) {
	var req operations.RestoreRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BackupFile == "" {
		respondError(w, http.StatusBadRequest, "backup_file is required")
		return
	}
	if req.Mode == "" {
		req.Mode = s.restore.DefaultMode
	}
	if s.restore.SubstituteArbitraryReference {
		req.SubstituteArbitraryReference = true
	}

	opID, err := s.manager.StartRestore(req)
	if err != nil {
		s.respondStartError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, operationAccepted{OperationID: opID, Kind: string(progress.KindRestore)})
}

func (s *Server) handleStartPurge(w http.ResponseWriter, r *http.Request) {
	var req operations.PurgeRequest
	if err := s.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Selection) == 0 {
		respondError(w, http.StatusBadRequest, "selection is required")
		return
	}

	opID, err := s.manager.StartPurge(req)
	if err != nil {
		var rejected *operations.PurgeRejectedError
		if errors.As(err, &rejected) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(APIResponse{
				Success: false,
				Error:   rejected.Error(),
				Data:    map[string]any{"rejected": rejected.Rejected},
			})
			return
		}
		s.respondStartError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, operationAccepted{OperationID: opID, Kind: string(progress.KindPurge)})
}

// respondStartError maps scheduling failures onto status codes: a live
// operation of the same kind is a conflict, anything else a bad request.
func (s *Server) respondStartError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("operation rejected")
	if errors.Is(err, progress.ErrAlreadyRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	kind, err := progress.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.manager.Progress(kind))
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.manager.ListDeletableEntities(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, entities)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	files, err := s.manager.ListBackups()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleLastReport(w http.ResponseWriter, r *http.Request) {
	kind, err := progress.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	var report any
	switch kind {
	case progress.KindBackup:
		if last := s.manager.LastBackup(); last != nil {
			report = last
		}
	case progress.KindRestore:
		if last := s.manager.LastRestore(); last != nil {
			report = last
		}
	case progress.KindPurge:
		if last := s.manager.LastPurge(); last != nil {
			report = last
		}
	}
	if report == nil {
		respondError(w, http.StatusNotFound, "no finished operation of kind "+string(kind))
		return
	}
	respondJSON(w, http.StatusOK, report)
}
