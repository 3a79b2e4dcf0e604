package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"gate-system/services"
)

type LedgerHandler struct {
	ledger services.LedgerStore
}

func NewLedgerHandler(ledger services.LedgerStore) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// ListAttempts serves the audit feed: filterable by scanner, outcome,
// ticket and time range, ordered with a stable cursor for incremental
// reads by dashboards.
func (h *LedgerHandler) ListAttempts(c echo.Context) error {
	filter := services.LedgerFilter{
		TicketID: c.QueryParam("ticket_id"),
		DeviceID: c.QueryParam("device_id"),
		Outcome:  c.QueryParam("outcome"),
		Cursor:   c.QueryParam("cursor"),
	}

	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "from must be RFC3339",
			})
		}
		filter.From = t
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "to must be RFC3339",
			})
		}
		filter.To = t
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	attempts, cursor, err := h.ledger.List(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"attempts": attempts,
		"cursor":   cursor,
	})
}
