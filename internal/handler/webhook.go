package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/jamesl1500/taskispace.com-sub003/internal/service"
	"github.com/jamesl1500/taskispace.com-sub003/pkg/payment"
	"github.com/sirupsen/logrus"
)

const maxWebhookBytes = int64(65536)

type WebhookHandler struct {
	gateway    payment.Gateway
	reconciler *service.Reconciler
}

func NewWebhookHandler(gateway payment.Gateway, reconciler *service.Reconciler) *WebhookHandler {
	return &WebhookHandler{
		gateway:    gateway,
		reconciler: reconciler,
	}
}

// Handle handles POST /api/billing/webhook. The status code tells the
// processor whether to redeliver: 2xx for every settled outcome, 409 and 503
// when the event should come again, 400 when it never will be accepted.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// 1. Read body
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	// 2. Verify signature and map to a neutral event
	raw, err := h.gateway.ParseWebhook(body, r.Header.Get(h.gateway.SignatureHeader()))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			logrus.WithError(err).Warn("webhook signature verification failed")
			JSON(w, http.StatusBadRequest, map[string]string{"error": "signature verification failed"})
			return
		}
		Error(w, err)
		return
	}

	// 3. Apply
	result, err := h.reconciler.ApplyEvent(r.Context(), *raw)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}
