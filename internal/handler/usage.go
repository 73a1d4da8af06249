package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
)

// UsageHandler serves usage reads and reservations.
type UsageHandler struct {
	ledger   *service.UsageLedger
	enforcer *service.LimitEnforcer
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(ledger *service.UsageLedger, enforcer *service.LimitEnforcer) *UsageHandler {
	return &UsageHandler{ledger: ledger, enforcer: enforcer}
}

type usageResponse struct {
	*domain.UsageSummary
	History []domain.UsageCounter `json:"history,omitempty"`
}

// Summary handles GET /api/billing/usage. ?history=true adds the counters
// of closed periods.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}

	summary, err := h.ledger.Summary(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	resp := usageResponse{UsageSummary: summary}
	if r.URL.Query().Get("history") == "true" {
		if resp.History, err = h.ledger.History(r.Context(), userID); err != nil {
			Error(w, err)
			return
		}
	}
	JSON(w, http.StatusOK, resp)
}

// Reserve handles POST /api/usage/{metric}/reserve. A denial is 429 with the
// reservation as body so the client can show an upgrade prompt.
func (h *UsageHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}

	res, err := h.enforcer.CheckAndReserve(r.Context(), userID, chi.URLParam(r, "metric"))
	if err != nil {
		Error(w, err)
		return
	}

	status := http.StatusOK
	if !res.Allowed {
		status = http.StatusTooManyRequests
	}
	JSON(w, status, res)
}
