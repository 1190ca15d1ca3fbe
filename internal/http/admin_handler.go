package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/cartcheckout/internal/ledger"
)

const defaultSalesWindow = 30 * 24 * time.Hour

type SalesReader interface {
	SummarizeSales(ctx context.Context, since time.Time) (*ledger.SalesSummary, error)
}

type AdminHandler struct {
	sales   SalesReader
	timeout time.Duration
	now     func() time.Time
}

// NewAdminHandler accepts a nil sales reader when no ledger is configured.
func NewAdminHandler(sales SalesReader, timeout time.Duration) *AdminHandler {
	return &AdminHandler{sales: sales, timeout: timeout, now: time.Now}
}

// GET /api/v1/admin/sales?since=RFC3339
func (h *AdminHandler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	if h.sales == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger_unavailable", "sales ledger is not configured")
		return
	}

	since := h.now().Add(-defaultSalesWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_input", "since must be an RFC3339 timestamp")
			return
		}
		since = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	summary, err := h.sales.SummarizeSales(ctx, since)
	if err != nil {
		respondError(w, http.StatusBadGateway, "upstream_failure", "could not read sales ledger")
		return
	}

	respondSuccess(w, http.StatusOK, summary)
}
