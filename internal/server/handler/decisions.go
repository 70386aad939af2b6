package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
	"github.com/alanyoungcy/cyclearb/internal/journal"
)

// RecentSource returns in-memory recent decisions.
type RecentSource interface {
	Recent(limit int) []domain.DecisionRecord
	Stats() journal.Stats
}

// ReasonCounter returns per-reason decision counts since start.
type ReasonCounter interface {
	Stats() map[string]uint64
}

// DecisionHandler serves arbiter decision endpoints.
type DecisionHandler struct {
	recent  RecentSource
	arbiter ReasonCounter
	store   domain.DecisionStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewDecisionHandler creates a DecisionHandler. arbiter is nil when this
// process does not arbitrate; store and audit are nil without Postgres.
func NewDecisionHandler(recent RecentSource, arbiter ReasonCounter, store domain.DecisionStore, audit domain.AuditStore, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{
		recent:  recent,
		arbiter: arbiter,
		store:   store,
		audit:   audit,
		logger:  logger.With(slog.String("handler", "decisions")),
	}
}

// ListRecent returns the newest decisions first. ?source=store reads from
// the database instead of memory.
// GET /api/decisions/recent
func (h *DecisionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50, 500)

	var (
		records []domain.DecisionRecord
		err     error
	)
	switch r.URL.Query().Get("source") {
	case "store":
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "decision store not configured")
			return
		}
		records, err = h.store.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.Error("list decisions", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list decisions")
			return
		}
	default:
		records = h.recent.Recent(limit)
	}
	if records == nil {
		records = []domain.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(records), "decisions": records})
}

// Stats returns decision counts by reason. ?window=1h also counts stored
// decisions over that window.
// GET /api/decisions/stats
func (h *DecisionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"journal": h.recent.Stats()}
	if h.arbiter != nil {
		resp["since_start"] = h.arbiter.Stats()
	}
	if v := r.URL.Query().Get("window"); v != "" {
		window, err := time.ParseDuration(v)
		if err != nil || window <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "decision store not configured")
			return
		}
		counts, err := h.store.CountByReason(r.Context(), time.Now().Add(-window))
		if err != nil {
			h.logger.Error("count decisions", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to count decisions")
			return
		}
		resp["window"] = window.String()
		resp["by_reason"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=100&offset=0&since=1h
func (h *DecisionHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit store not configured")
		return
	}
	opts := domain.ListOpts{
		Limit:  intParam(r, "limit", 100, 1000),
		Offset: intParam(r, "offset", 0, 1<<20),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since := time.Now().Add(-d)
		opts.Since = &since
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("list audit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "entries": entries})
}
