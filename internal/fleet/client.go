package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/models"
	"github.com/rs/zerolog"
)

var (
	// ErrAuthUnavailable indicates no usable access token could be obtained.
	// The call fails immediately without retrying.
	ErrAuthUnavailable = errors.New("no valid access token available")

	// ErrVehicleUnreachable indicates the vehicle or service did not respond:
	// either an explicit 408 or all attempts were exhausted. Expected and
	// frequent; recorded as a metric rather than treated as a failure.
	ErrVehicleUnreachable = errors.New("vehicle unreachable")

	// ErrWakeTimeout indicates the vehicle did not come online within the
	// wake deadline.
	ErrWakeTimeout = errors.New("vehicle did not wake in time")
)

// APIError is a terminal client error for 4xx statuses outside the retry
// policy.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// TokenProvider supplies access tokens and forced refreshes for outbound
// calls.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// vehicleDataEndpoints lists every telemetry category. All categories are
// requested on every call; omitting one silently drops its fields downstream.
const vehicleDataEndpoints = "charge_state;climate_state;drive_state;location_data;vehicle_state;vehicle_config"

// Client issues authenticated Fleet API calls with a uniform retry, backoff
// and rate-limit policy, independent of endpoint.
type Client struct {
	apiBase    string
	tokens     TokenProvider
	httpClient *http.Client
	logger     zerolog.Logger

	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	rateLimitDelay time.Duration

	wakePollInterval time.Duration
	wakeTimeout      time.Duration
}

// NewClient initializes a new Fleet API client.
func NewClient(apiBase string, tokens TokenProvider, logger zerolog.Logger) *Client {
	return &Client{
		apiBase:          apiBase,
		tokens:           tokens,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		logger:           logger,
		maxRetries:       3,
		baseDelay:        1 * time.Second,
		maxDelay:         60 * time.Second,
		rateLimitDelay:   30 * time.Second,
		wakePollInterval: 5 * time.Second,
		wakeTimeout:      60 * time.Second,
	}
}

// doRequest executes one authenticated call under the per-call policy:
// at most maxRetries attempts, a single forced-refresh retry on the first
// 401, terminal unreachable on 408, server-directed sleep on 429, and
// exponential backoff on 5xx or transport failure.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	endpoint := c.apiBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := c.baseDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", c.maxRetries).
				Str("path", path).
				Msg("Request failed")
			if attempt < c.maxRetries {
				if err := c.sleep(ctx, minDuration(backoff, c.maxDelay)); err != nil {
					return nil, err
				}
				backoff *= 2
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, readErr
			}
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized && attempt == 1:
			// Handles token revocation/rotation races: one forced refresh,
			// one immediate retry. A second 401 is terminal.
			c.logger.Warn().Str("path", path).Msg("Got 401, refreshing token and retrying")
			if err := c.tokens.Refresh(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
			}
			continue

		case resp.StatusCode == http.StatusRequestTimeout:
			// 408 means the vehicle is offline, not a transient fault.
			c.logger.Info().Str("path", path).Msg("Vehicle offline/unreachable (408)")
			return nil, ErrVehicleUnreachable

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := c.retryAfter(resp)
			c.logger.Warn().Dur("delay", delay).Str("path", path).Msg("Rate limited, sleeping")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			// Rate limiting does not grow the backoff, only consumes an
			// attempt.
			continue

		case resp.StatusCode >= http.StatusInternalServerError:
			c.logger.Warn().
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Int("max_retries", c.maxRetries).
				Str("path", path).
				Msg("Server error")
			if attempt < c.maxRetries {
				if err := c.sleep(ctx, minDuration(backoff, c.maxDelay)); err != nil {
					return nil, err
				}
				backoff *= 2
			}
			continue

		default:
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
			c.logger.Error().Int("status", resp.StatusCode).Str("path", path).Msg("API error")
			return nil, apiErr
		}
	}

	c.logger.Error().Int("max_retries", c.maxRetries).Str("path", path).Msg("All request attempts failed")
	return nil, ErrVehicleUnreachable
}

// ListVehicles returns the lightweight vehicle list. This call never wakes a
// vehicle. Failures are logged here and reported as an empty list.
func (c *Client) ListVehicles(ctx context.Context) []models.Vehicle {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/1/vehicles", nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list vehicles")
		return nil
	}

	var envelope models.ListVehiclesResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse vehicle list")
		return nil
	}

	return envelope.Response
}

// GetVehicleData fetches the full telemetry payload for one vehicle.
func (c *Client) GetVehicleData(ctx context.Context, vehicleID int64) (*models.VehicleData, error) {
	query := url.Values{"endpoints": {vehicleDataEndpoints}}
	path := fmt.Sprintf("/api/1/vehicles/%d/vehicle_data", vehicleID)

	body, err := c.doRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}

	var envelope models.VehicleDataResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse vehicle data: %w", err)
	}
	if envelope.Response == nil {
		return nil, errors.New("vehicle data response is empty")
	}

	return envelope.Response, nil
}

// WakeVehicle issues a wake command, then polls the vehicle list until the
// target reports online or the wake deadline elapses. This polling has its
// own deadline, independent of the outer poll interval.
func (c *Client) WakeVehicle(ctx context.Context, vehicleID int64) error {
	c.logger.Info().Int64("vehicle_id", vehicleID).Msg("Sending wake command")

	path := fmt.Sprintf("/api/1/vehicles/%d/wake_up", vehicleID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil); err != nil {
		c.logger.Warn().Err(err).Int64("vehicle_id", vehicleID).Msg("Wake command failed")
	}

	deadline := time.Now().Add(c.wakeTimeout)
	for time.Now().Before(deadline) {
		if err := c.sleep(ctx, c.wakePollInterval); err != nil {
			return err
		}

		for _, v := range c.ListVehicles(ctx) {
			if v.ID == vehicleID && v.ReportedState() == models.VehicleStateOnline {
				c.logger.Info().Int64("vehicle_id", vehicleID).Msg("Vehicle is now online")
				return nil
			}
		}
	}

	c.logger.Warn().
		Int64("vehicle_id", vehicleID).
		Dur("timeout", c.wakeTimeout).
		Msg("Vehicle did not wake within deadline")
	return ErrWakeTimeout
}

// retryAfter reads the server-supplied retry delay from a 429 response.
func (c *Client) retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return c.rateLimitDelay
}

// sleep blocks for d or until the context is cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
