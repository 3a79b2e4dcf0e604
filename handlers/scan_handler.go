package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"gate-system/internal/device"
	"gate-system/internal/status"
)

// ScanHandler is the local HTTP surface of a gate device. The scan gun
// firmware posts raw payloads here and renders whatever comes back.
type ScanHandler struct {
	scanner *device.Scanner
	queue   *device.Queue
}

func NewScanHandler(scanner *device.Scanner, queue *device.Queue) *ScanHandler {
	return &ScanHandler{scanner: scanner, queue: queue}
}

type scanRequest struct {
	Payload     string `json:"payload"`
	Method      string `json:"method"`
	Mode        string `json:"mode"`
	OperatorID  string `json:"operator_id"`
	OverridePIN string `json:"override_pin"`
}

func (h *ScanHandler) Scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Payload == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "payload is required"})
	}
	if req.Method == "" {
		req.Method = "qr"
	}

	result, err := h.scanner.Scan(c.Request().Context(), device.ScanInput{
		Payload:     req.Payload,
		Method:      req.Method,
		Mode:        req.Mode,
		OperatorID:  req.OperatorID,
		OverridePIN: req.OverridePIN,
	})
	if err != nil {
		if errors.Is(err, status.ErrQueueStorage) {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "local queue storage failed, scan not recorded",
			})
		}
		if errors.Is(err, status.ErrOverrideDenied) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, result)
}

// QueueStatus reports how many scans are still waiting for sync.
func (h *ScanHandler) QueueStatus(c echo.Context) error {
	count, err := h.queue.PendingCount(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int64{"pending": count})
}
