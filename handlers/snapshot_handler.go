package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"gate-system/internal/status"
	"gate-system/services"
)

type SnapshotHandler struct {
	snapshots *services.SnapshotService
}

func NewSnapshotHandler(snapshots *services.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots}
}

// GetSnapshot is the central store's readTicketSnapshot operation, used by
// devices to refresh their offline decision cache.
func (h *SnapshotHandler) GetSnapshot(c echo.Context) error {
	ticketID := c.PathParam("ticketId")
	if ticketID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "ticketId is required",
		})
	}

	snap, err := h.snapshots.Read(c.Request().Context(), ticketID)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "ticket not found",
			})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "snapshot unavailable",
		})
	}

	return c.JSON(http.StatusOK, snap)
}
