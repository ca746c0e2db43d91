package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/engine"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("caller identity required"))
		return
	}
	var req queryRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		logger.Warn("api: query decode failed", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.TimeoutMs < 0 {
		writeError(w, http.StatusBadRequest, errors.New("timeout_ms must not be negative"))
		return
	}
	logger.Info("api: query requested", "user", id.ID, "role", string(id.Role), "request_id", common.RequestID(r.Context()))
	resp := s.asker.Ask(r.Context(), engine.Request{
		Prompt:   req.Prompt,
		Identity: id,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	status := resp.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
