package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/bedlink/internal/audit"
	"github.com/nerrad567/bedlink/internal/bed"
)

// handleStatus returns an aggregate snapshot of every session.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.version,
		"sessions":   stats.Sessions,
		"connected":  stats.Connected,
		"movements":  stats.ActiveMovements,
		"ws_clients": s.Hub().ClientCount(),
		"beds":       stats.PerSession,
	})
}

// handleCommands returns every command name the codec accepts, split
// into one-shot and holdable groups so clients can build their UIs
// without hardcoding the command set.
func (s *Server) handleCommands(w http.ResponseWriter, _ *http.Request) {
	all := bed.Commands()
	holdable := make([]string, 0, len(all))
	oneShot := make([]string, 0, len(all))
	for _, name := range all {
		if bed.IsHoldable(name) {
			holdable = append(holdable, name)
		} else {
			oneShot = append(oneShot, name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": all,
		"holdable": holdable,
		"one_shot": oneShot,
	})
}

// handleListAudit returns the command audit trail, filtered and paginated.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeJSON(w, http.StatusOK, &audit.ListResult{Entries: []audit.Entry{}})
		return
	}

	query := r.URL.Query()
	filter := audit.Filter{
		Address: query.Get("address"),
		Command: query.Get("command"),
		Source:  query.Get("source"),
	}
	if limit := query.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit) //nolint:errcheck // zero falls back to default
	}
	if offset := query.Get("offset"); offset != "" {
		filter.Offset, _ = strconv.Atoi(offset) //nolint:errcheck // zero falls back to default
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleScan runs a BLE discovery scan and returns likely bed controllers.
// The scan blocks for the configured scan timeout; clients should expect
// this endpoint to take several seconds.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeUnavailable(w, "scanning is not available")
		return
	}

	timeout := time.Duration(s.btCfg.Scan.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	candidates, err := s.scanner.Scan(r.Context(), timeout, s.btCfg.Scan.NamePatterns)
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		writeUnavailable(w, "scan failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
	})
}
