package handler

import (
	"net/http"

	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
)

// PlansHandler handles plan-related endpoints.
type PlansHandler struct {
	svc *service.SubscriptionService
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(svc *service.SubscriptionService) *PlansHandler {
	return &PlansHandler{svc: svc}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.svc.ListPlans())
}
