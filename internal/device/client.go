package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gate-system/models"
	"gate-system/services"
	"gate-system/utils"
)

// CentralClient is the device's view of the central store: the two network
// calls the engine is allowed to make, plus nothing else.
type CentralClient interface {
	SubmitClaim(ctx context.Context, req services.ClaimRequest) (*services.ClaimResult, error)
	ReadSnapshot(ctx context.Context, ticketID string) (*models.Snapshot, error)
}

// transientError marks failures where the claim outcome is unknown and a
// retry of the same idempotent claim is safe.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as a retryable submission failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the failure is retryable rather than a
// decided business outcome.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// HTTPClient talks to the gate server's claim and snapshot endpoints. All
// calls run behind a circuit breaker so a dead link fails fast into the
// offline path instead of stalling the scan interaction.
type HTTPClient struct {
	baseURL  string
	deviceID string
	http     *http.Client
	breaker  *utils.CircuitBreaker
}

func NewHTTPClient(baseURL, deviceID string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
		breaker:  utils.NewCircuitBreaker("central-store"),
	}
}

func (c *HTTPClient) SubmitClaim(ctx context.Context, req services.ClaimRequest) (*services.ClaimResult, error) {
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/scan/claim", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Device-ID", c.deviceID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, Transient(fmt.Errorf("claim submission: server status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("claim submission: unexpected status %d", resp.StatusCode)
		}

		var claimResult services.ClaimResult
		if err := json.NewDecoder(resp.Body).Decode(&claimResult); err != nil {
			// The server may have applied the transition; outcome unknown.
			return nil, Transient(err)
		}
		return &claimResult, nil
	})
	if err != nil {
		if IsTransient(err) {
			return nil, err
		}
		// Breaker-open errors are transient by nature: the link is down.
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
			return nil, Transient(err)
		}
		return nil, err
	}
	return result.(*services.ClaimResult), nil
}

func (c *HTTPClient) ReadSnapshot(ctx context.Context, ticketID string) (*models.Snapshot, error) {
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/tickets/%s/snapshot", c.baseURL, ticketID), nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("X-Device-ID", c.deviceID)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, Transient(fmt.Errorf("snapshot read: server status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("snapshot read: unexpected status %d", resp.StatusCode)
		}

		var snap models.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return nil, err
		}
		return &snap, nil
	})
	if err != nil {
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
			return nil, Transient(err)
		}
		return nil, err
	}
	return result.(*models.Snapshot), nil
}
