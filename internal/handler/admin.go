package handler

import (
	"net/http"

	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
)

type AdminHandler struct {
	svc *service.SubscriptionService
}

func NewAdminHandler(svc *service.SubscriptionService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// GetStats handles GET /api/admin/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.StatusCounts(r.Context())
	if err != nil {
		Error(w, err)
		return
	}

	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": total,
		"byStatus":      byStatus,
	})
}
