package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"snapvault/internal/metrics"
	"snapvault/internal/vault"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type createRequest struct {
	ID      string            `json:"id,omitempty"`
	Payload json.RawMessage   `json:"payload"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type mergeRequest struct {
	Base    string `json:"base"`
	Overlay string `json:"overlay"`
	Target  string `json:"target,omitempty"`
}

type snapshotResponse struct {
	ID        string            `json:"id"`
	Revision  int               `json:"revision"`
	Labels    map[string]string `json:"labels,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	snap, err := s.vault.Put(r.Context(), req.ID, req.Payload, req.Labels)
	if err != nil {
		s.writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       snap.ID,
		"revision": snap.Revision,
		"size":     len(snap.Payload),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.vault.List(r.Context())
	if err != nil {
		s.writeVaultError(w, err)
		return
	}
	if entries == nil {
		entries = []vault.ManifestEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": entries})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.vault.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotToResponse(snap))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeVaultError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	snap, err := s.vault.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotToResponse(snap))
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Base == "" || req.Overlay == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "base and overlay are required")
		return
	}

	snap, err := s.vault.Merge(r.Context(), req.Base, req.Overlay, req.Target)
	if err != nil {
		s.writeVaultError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       snap.ID,
		"revision": snap.Revision,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.vault.VaultStats(r.Context())
	if err != nil {
		s.writeVaultError(w, err)
		return
	}

	resp := map[string]interface{}{"vault": stats}
	if s.reg != nil {
		resp["metrics"] = s.reg.StatsSnapshot()
	}
	if s.bus != nil {
		resp["bus"] = s.bus.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody enforces content type, size cap, and JSON well-formedness.
// Writes the error response itself and returns false on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !hasJSONContentType(ct) {
		writeError(w, http.StatusUnsupportedMediaType, "invalid_content_type", "expected application/json")
		return false
	}

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body")
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid_json", "trailing data after JSON body")
		return false
	}
	return true
}

// writeVaultError maps vault sentinel errors to HTTP status codes.
func (s *Server) writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, vault.ErrInvalidID), errors.Is(err, vault.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, vault.ErrArchived):
		writeError(w, http.StatusConflict, "archived", err.Error())
	case errors.Is(err, vault.ErrLocked):
		writeError(w, http.StatusServiceUnavailable, "locked", err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		s.count("server.errors")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
	if s.bus != nil && err != nil {
		s.bus.Emit(metrics.Event{
			Category: metrics.CategoryServer,
			Kind:     "server.error",
			Fields:   map[string]string{"error": err.Error()},
		})
	}
}

func snapshotToResponse(snap *vault.Snapshot) snapshotResponse {
	return snapshotResponse{
		ID:        snap.ID,
		Revision:  snap.Revision,
		Labels:    snap.Labels,
		Payload:   snap.Payload,
		CreatedAt: snap.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt: snap.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func hasJSONContentType(ct string) bool {
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	return ct == "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
