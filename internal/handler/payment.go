package handler

import (
	"net/http"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
)

// PaymentHandler serves checkout, portal and subscription lookups.
type PaymentHandler struct {
	svc *service.SubscriptionService
}

func NewPaymentHandler(svc *service.SubscriptionService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// CreateCheckout handles POST /api/billing/checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}

	var req domain.CreateCheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.CreateCheckoutSession(r.Context(), userID, req.PlanID, req.BillingPeriod)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// CreatePortal handles POST /api/billing/portal.
func (h *PaymentHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	userID, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.CreatePortalSession(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// GetSubscription handles GET /api/billing/subscription.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := userID(r)
	if err != nil {
		Error(w, err)
		return
	}

	sub, err := h.svc.GetCurrentSubscription(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	if sub == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"status": "none"})
		return
	}

	JSON(w, http.StatusOK, sub)
}
