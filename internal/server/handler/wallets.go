package handler

import (
	"net/http"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// WalletLister exposes the pool's read-only view.
type WalletLister interface {
	Summaries() []domain.WalletSummary
}

// WalletHandler serves the wallet pool state.
type WalletHandler struct {
	pool WalletLister
}

func NewWalletHandler(pool WalletLister) *WalletHandler {
	return &WalletHandler{pool: pool}
}

// ListWallets returns every pool member with its purpose and lease state.
// GET /api/wallets
func (h *WalletHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets := h.pool.Summaries()
	if wallets == nil {
		wallets = []domain.WalletSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallets": wallets,
		"count":   len(wallets),
	})
}
