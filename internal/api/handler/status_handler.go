package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/event-driven-arch/internal/statusingress"
)

// StatusHandler serves the provider callback endpoint (Status Ingress, C11).
// The request body format is provider-specific in principle; every adapter
// in this system normalizes its callback to the same small envelope, so one
// handler serves all four providers.
type StatusHandler struct {
	svc    *statusingress.Service
	logger *zap.Logger
}

func NewStatusHandler(svc *statusingress.Service, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{svc: svc, logger: logger}
}

type statusCallback struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"` // "delivered" or "failed"
	Reason            string `json:"reason,omitempty"`
}

// Callback handles POST /api/v1/callbacks/{provider}
//
// @Summary  Provider delivery status callback
// @Tags     status
// @Accept   json
// @Param    body  body  handler.statusCallback  true  "Delivery status"
// @Success  204
// @Failure  400  {object}  map[string]string
// @Router   /api/v1/callbacks/{provider} [post]
func (h *StatusHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var body statusCallback
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ProviderMessageID == "" {
		respondError(w, http.StatusBadRequest, "provider_message_id is required")
		return
	}

	delivered := body.Status == "delivered"
	if err := h.svc.Reconcile(r.Context(), body.ProviderMessageID, delivered, body.Reason); err != nil {
		h.logger.Error("status reconciliation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
