package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"gate-system/models"
	"gate-system/services"
)

type ClaimHandler struct {
	claims *services.ClaimService
}

func NewClaimHandler(claims *services.ClaimService) *ClaimHandler {
	return &ClaimHandler{claims: claims}
}

// SubmitClaim is the central store's submitClaim operation: it decides one
// admission transition and returns the outcome with the ticket's new
// state. Business rejections are 200 responses; only a transient store
// failure (outcome unknown) yields 503 so the device retries.
func (h *ClaimHandler) SubmitClaim(c echo.Context) error {
	var req services.ClaimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid claim request",
		})
	}

	if req.TicketID == "" || req.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "ticket_id and device_id are required",
		})
	}

	switch req.Method {
	case models.MethodQR, models.MethodNFC, models.MethodManual:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "method must be qr, nfc or manual",
		})
	}

	if req.ScannedAt.IsZero() {
		req.ScannedAt = time.Now().UTC()
	}
	if req.Origin == "" {
		req.Origin = services.OriginLive
	}

	result, err := h.claims.SubmitClaim(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "claim outcome unknown, retry",
		})
	}

	return c.JSON(http.StatusOK, result)
}
