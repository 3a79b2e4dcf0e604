package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
)

type AdminHandler struct {
	redis *redis.Client
}

func NewAdminHandler(redisClient *redis.Client) *AdminHandler {
	return &AdminHandler{redis: redisClient}
}

// GetEventTallies returns the live admitted/rejected counters for one
// event's gates.
func (h *AdminHandler) GetEventTallies(c echo.Context) error {
	eventID := c.PathParam("eventId")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "eventId is required",
		})
	}

	tallyKey := fmt.Sprintf("gate:tally:%s", eventID)
	tally, err := h.redis.HGetAll(c.Request().Context(), tallyKey).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "tallies unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"event_id": eventID,
		"tally":    tally,
	})
}

// GetGateDashboard aggregates tallies across all active events.
func (h *AdminHandler) GetGateDashboard(c echo.Context) error {
	ctx := c.Request().Context()

	keys, err := h.redis.Keys(ctx, "gate:tally:*").Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "dashboard unavailable",
		})
	}

	events := make(map[string]map[string]string, len(keys))
	for _, key := range keys {
		eventID := key[len("gate:tally:"):]
		tally, err := h.redis.HGetAll(ctx, key).Result()
		if err != nil {
			continue
		}
		events[eventID] = tally
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events": events,
	})
}
