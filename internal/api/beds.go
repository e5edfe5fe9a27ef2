package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/bedlink/internal/audit"
	"github.com/nerrad567/bedlink/internal/bed"
)

// auditSourceAPI tags audit entries created by REST handlers.
const auditSourceAPI = "api"

// createBedRequest is the request body for POST /beds.
type createBedRequest struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	AutoConnect *bool  `json:"auto_connect,omitempty"`
}

// updateBedRequest is the request body for PATCH /beds/{id}.
// Only supplied fields are changed.
type updateBedRequest struct {
	Name        *string `json:"name,omitempty"`
	AutoConnect *bool   `json:"auto_connect,omitempty"`
}

// commandRequest is the request body for command and hold endpoints.
type commandRequest struct {
	Command string `json:"command"`
}

// bedStatusResponse is the response body for GET /beds/{id}/status.
type bedStatusResponse struct {
	Bed       *bed.Bed         `json:"bed"`
	Session   bed.SessionStats `json:"session"`
	Movements []string         `json:"movements"`
}

// handleListBeds returns all registered beds.
func (s *Server) handleListBeds(w http.ResponseWriter, r *http.Request) {
	beds, err := s.bedRepo.List(r.Context())
	if err != nil {
		s.logger.Error("listing beds failed", "error", err)
		writeInternalError(w, "failed to list beds")
		return
	}
	if beds == nil {
		beds = []bed.Bed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"beds": beds, "count": len(beds)})
}

// handleCreateBed registers a new bed.
func (s *Server) handleCreateBed(w http.ResponseWriter, r *http.Request) {
	var req createBedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	newBed := &bed.Bed{
		Address:     req.Address,
		Name:        req.Name,
		AutoConnect: true,
	}
	if req.AutoConnect != nil {
		newBed.AutoConnect = *req.AutoConnect
	}

	if err := s.bedRepo.Create(r.Context(), newBed); err != nil {
		switch {
		case errors.Is(err, bed.ErrExists):
			writeConflict(w, "a bed with this address already exists")
		case errors.Is(err, bed.ErrInvalidAddress), errors.Is(err, bed.ErrInvalidName):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("creating bed failed", "error", err)
			writeInternalError(w, "failed to create bed")
		}
		return
	}

	s.logger.Info("bed created", "id", newBed.ID, "address", newBed.Address)
	writeJSON(w, http.StatusCreated, newBed)
}

// handleGetBed returns one bed by ID.
func (s *Server) handleGetBed(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// handleUpdateBed modifies a bed's name or auto-connect flag.
func (s *Server) handleUpdateBed(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	var req updateBedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		found.Name = *req.Name
	}
	if req.AutoConnect != nil {
		found.AutoConnect = *req.AutoConnect
	}

	if err := s.bedRepo.Update(r.Context(), found); err != nil {
		switch {
		case errors.Is(err, bed.ErrNotFound):
			writeNotFound(w, "bed not found")
		case errors.Is(err, bed.ErrInvalidName):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("updating bed failed", "id", found.ID, "error", err)
			writeInternalError(w, "failed to update bed")
		}
		return
	}

	writeJSON(w, http.StatusOK, found)
}

// handleDeleteBed removes a bed and tears down its session.
func (s *Server) handleDeleteBed(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	if err := s.registry.Disconnect(found.Address); err != nil {
		s.logger.Warn("disconnect during delete failed", "address", found.Address, "error", err)
	}

	if err := s.bedRepo.Delete(r.Context(), found.ID); err != nil {
		if errors.Is(err, bed.ErrNotFound) {
			writeNotFound(w, "bed not found")
			return
		}
		s.logger.Error("deleting bed failed", "id", found.ID, "error", err)
		writeInternalError(w, "failed to delete bed")
		return
	}

	s.logger.Info("bed deleted", "id", found.ID, "address", found.Address)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": found.ID})
}

// handleBedStatus returns the live session state for one bed.
func (s *Server) handleBedStatus(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	resp := bedStatusResponse{
		Bed:       found,
		Movements: []string{},
		Session: bed.SessionStats{
			Address: found.Address,
			State:   bed.StateDisconnected,
		},
	}
	if session, exists := s.registry.Lookup(found.Address); exists {
		resp.Session = session.Stats()
	}
	if movements := s.registry.ActiveMovements(found.Address); movements != nil {
		resp.Movements = movements
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleConnectBed proactively establishes the BLE link.
func (s *Server) handleConnectBed(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	if err := s.registry.Connect(r.Context(), found.Address); err != nil {
		writeUnavailable(w, "connection failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": found.Address, "state": bed.StateConnected})
}

// handleDisconnectBed tears down the BLE link.
func (s *Server) handleDisconnectBed(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	if err := s.registry.Disconnect(found.Address); err != nil {
		s.logger.Warn("disconnect failed", "address", found.Address, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": found.Address, "state": bed.StateDisconnected})
}

// handleCommand sends a one-shot command to a bed.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	start := time.Now()
	err := s.registry.SendCommand(r.Context(), found.Address, req.Command)
	s.recordCommand(found.Address, req.Command, start, err)

	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": found.Address,
		"command": req.Command,
		"sent":    true,
	})
}

// handleStartHold begins a press-and-hold movement.
func (s *Server) handleStartHold(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.StartHold(found.Address, req.Command); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": found.Address,
		"command": req.Command,
		"holding": true,
	})
}

// handleStopHold stops one press-and-hold movement.
func (s *Server) handleStopHold(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.StopHold(found.Address, req.Command); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": found.Address,
		"command": req.Command,
		"holding": false,
	})
}

// handleStopAll stops every movement on a bed and sends an explicit stop.
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupBed(w, r)
	if !ok {
		return
	}

	start := time.Now()
	err := s.registry.StopAllHolds(r.Context(), found.Address)
	s.recordCommand(found.Address, bed.CmdStop, start, err)

	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": found.Address,
		"stopped": true,
	})
}

// lookupBed resolves the {id} path parameter, writing the error response
// on failure.
func (s *Server) lookupBed(w http.ResponseWriter, r *http.Request) (*bed.Bed, bool) {
	id := chi.URLParam(r, "id")

	found, err := s.bedRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, bed.ErrNotFound) {
			writeNotFound(w, "bed not found")
			return nil, false
		}
		s.logger.Error("looking up bed failed", "id", id, "error", err)
		writeInternalError(w, "failed to look up bed")
		return nil, false
	}
	return found, true
}

// writeCommandError maps bed package errors onto HTTP responses.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bed.ErrUnknownCommand), errors.Is(err, bed.ErrNotHoldable),
		errors.Is(err, bed.ErrInvalidAddress):
		writeBadRequest(w, err.Error())
	case errors.Is(err, bed.ErrConnectionFailed), errors.Is(err, bed.ErrWriteFailed),
		errors.Is(err, bed.ErrNotConnected), errors.Is(err, bed.ErrClosed):
		writeUnavailable(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

// recordCommand writes the audit entry and latency metric for one
// command attempt. Both sinks are optional and best-effort.
func (s *Server) recordCommand(address, command string, start time.Time, err error) {
	duration := time.Since(start)

	if s.recorder != nil {
		entry := audit.Entry{
			Address: address,
			Command: command,
			Source:  auditSourceAPI,
			Success: err == nil,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		s.recorder.Record(entry)
	}
	if s.metrics != nil {
		s.metrics.WriteCommandMetric(address, command, err == nil, float64(duration.Milliseconds()))
	}
}
