package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/sqlite"
)

var errNoLedger = errors.New("ledger not configured")

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	snap, rendered, err := s.asker.Schema(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Collections: snap.Collections,
		CapturedAt:  snap.CapturedAt,
		ExpiresAt:   snap.ExpiresAt,
		Rendered:    rendered,
	})
}

func (s *Server) handleSchemaInvalidate(w http.ResponseWriter, r *http.Request) {
	s.asker.Invalidate()
	id, _ := IdentityFromContext(r.Context())
	common.Logger().Info("api: caches invalidated", "user", id.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, errNoLedger)
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.ledger.RecentAudit(r.Context(), sqlite.AuditFilter{
		Identity: q.Get("identity"),
		Kind:     q.Get("kind"),
		Since:    since,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, errNoLedger)
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := s.ledger.UsageTotals(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries := common.LogEntries(common.LogFilter{
		Component: strings.TrimSpace(q.Get("component")),
		AuditOnly: q.Get("audit") == "true",
		Limit:     limit,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: use RFC3339 or a duration", raw)
	}
	return t, nil
}
