package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// HistoryHandler serves the audit sink's recorded transactions.
type HistoryHandler struct {
	audit  domain.AuditSink
	logger *slog.Logger
}

func NewHistoryHandler(audit domain.AuditSink, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{audit: audit, logger: logHandler(logger, "history")}
}

// ListRollovers returns recorded rollover transactions, newest first.
// GET /api/rollovers
func (h *HistoryHandler) ListRollovers(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.audit.ListRollovers(r.Context(), opts)
	if err != nil {
		h.fail(w, "list rollovers", err)
		return
	}
	if rows == nil {
		rows = []domain.StoredRollover{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollovers": rows, "count": len(rows)})
}

// ListArbitrages returns recorded arbitrage executions, newest first.
// GET /api/arbitrages
func (h *HistoryHandler) ListArbitrages(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.audit.ListArbitrages(r.Context(), opts)
	if err != nil {
		h.fail(w, "list arbitrages", err)
		return
	}
	if rows == nil {
		rows = []domain.StoredArbitrage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"arbitrages": rows, "count": len(rows)})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.fail(w, "list audit log", err)
		return
	}
	if rows == nil {
		rows = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows, "count": len(rows)})
}

func (h *HistoryHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, op+" failed")
}
