package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// FailureHandler exposes the rollover failure counters so an operator can see
// which loans have hit the ceiling and clear them.
type FailureHandler struct {
	counter domain.FailureCounter
	ceiling int
	logger  *slog.Logger
}

func NewFailureHandler(counter domain.FailureCounter, ceiling int, logger *slog.Logger) *FailureHandler {
	return &FailureHandler{
		counter: counter,
		ceiling: ceiling,
		logger:  logHandler(logger, "failures"),
	}
}

type failureView struct {
	LoanID   string `json:"loanId"`
	Failures int    `json:"failures"`
	Blocked  bool   `json:"blocked"`
}

// ListFailures returns every tracked loan with its consecutive failure count.
// GET /api/rollover/failures
func (h *FailureHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	snap, err := h.counter.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("snapshot failure counters", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read failure counters")
		return
	}

	out := make([]failureView, 0, len(snap))
	for id, n := range snap {
		out = append(out, failureView{
			LoanID:   id.Hex(),
			Failures: n,
			Blocked:  n >= h.ceiling,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}
		return out[i].LoanID < out[j].LoanID
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"ceiling":  h.ceiling,
		"failures": out,
	})
}

// ClearFailures resets one loan's counter so the engine attempts it again.
// DELETE /api/rollover/failures/{loanId}
func (h *FailureHandler) ClearFailures(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("loanId")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, "loanId must be a 32-byte 0x-prefixed hex string")
		return
	}
	id := common.BytesToHash(b)

	if err := h.counter.Reset(r.Context(), id); err != nil {
		h.logger.Error("reset failure counter",
			slog.String("loan_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to clear failure counter")
		return
	}

	h.logger.Info("failure counter cleared", slog.String("loan_id", id.Hex()))
	w.WriteHeader(http.StatusNoContent)
}
