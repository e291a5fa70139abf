// Package tripapi provides a client for the bearer-token trip REST API with
// dual-credential authentication failover.
package tripapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/model"
)

// Config holds trip API configuration. Token is the pre-provisioned primary
// bearer token; Email/Password are the alternate credential pair used for
// failover sign-in.
type Config struct {
	BaseURL  string
	Token    string
	Email    string
	Password string
	Timeout  time.Duration
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: trip API base URL is required", common.ErrMissingConfig)
	}
	if c.Token == "" && (c.Email == "" || c.Password == "") {
		return fmt.Errorf("%w: trip API needs a token or an email/password pair", common.ErrMissingConfig)
	}
	return nil
}

// Client implements the service.TripFetcher interface.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config

	mu       sync.Mutex
	altToken string
}

// NewClient creates a new trip API client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     common.ComponentLogger("tripapi"),
	}, nil
}

// Wire types for the trip-detail endpoint.
type tripEnvelope struct {
	Data struct {
		Attributes tripAttributes `json:"attributes"`
	} `json:"data"`
}

type tripAttributes struct {
	CalculatedDistance json.RawMessage `json:"calculatedDistance"`
	LowGpsAccuracy     *bool           `json:"lowGpsAccuracy"`
	AutoEnded          *bool           `json:"autoEnded"`
	Activity           []activityEntry `json:"activity"`
	Coordinates        [][]float64     `json:"coordinates"`
}

type activityEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

type signInResponse struct {
	Token string `json:"token"`
}

// FetchTrip retrieves and normalizes a single trip's attributes. All
// network, authentication, and decode failures come back as sentinel errors;
// the caller treats any error as "this fetch produced no data".
func (c *Client) FetchTrip(ctx context.Context, id string) (*model.TripDetails, error) {
	body, err := c.getWithFailover(ctx, "/trips/"+id)
	if err != nil {
		return nil, err
	}

	var env tripEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to decode trip %s: %v", common.ErrNoData, id, err)
	}

	return c.normalizeAttributes(id, env.Data.Attributes), nil
}

// FetchCoordinateCount retrieves the number of recorded coordinates for a trip.
func (c *Client) FetchCoordinateCount(ctx context.Context, id string) (int, error) {
	body, err := c.getWithFailover(ctx, "/trips/"+id+"/coordinates")
	if err != nil {
		return 0, err
	}

	var env tripEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("%w: failed to decode coordinates for trip %s: %v", common.ErrNoData, id, err)
	}

	return len(env.Data.Attributes.Coordinates), nil
}

// getWithFailover issues a GET with the primary token. A 401 response or a
// network-level failure triggers one sign-in with the alternate credential
// pair and a single retry with that token.
func (c *Client) getWithFailover(ctx context.Context, path string) ([]byte, error) {
	body, status, err := c.get(ctx, path, c.cfg.Token)
	switch {
	case err == nil && status == http.StatusOK:
		return body, nil
	case err == nil && status != http.StatusUnauthorized:
		return nil, statusError(status)
	}

	if err != nil {
		c.logger.Warn("Primary request failed, trying alternate credentials",
			"path", path,
			"error", err)
	} else {
		c.logger.Warn("Primary token rejected, trying alternate credentials", "path", path)
	}

	token, authErr := c.alternateToken(ctx)
	if authErr != nil {
		return nil, authErr
	}

	body, status, err = c.get(ctx, path, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: both credential sets rejected", common.ErrAuthFailed)
	}
	if status != http.StatusOK {
		return nil, statusError(status)
	}

	return body, nil
}

func (c *Client) get(ctx context.Context, path, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	return body, resp.StatusCode, nil
}

// alternateToken signs in with the alternate credential pair, caching the
// resulting token for subsequent failovers.
func (c *Client) alternateToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.altToken != "" {
		return c.altToken, nil
	}

	if c.cfg.Email == "" || c.cfg.Password == "" {
		return "", fmt.Errorf("%w: no alternate credentials configured", common.ErrAuthFailed)
	}

	payload, err := json.Marshal(map[string]any{
		"admin_user": map[string]string{
			"email":    c.cfg.Email,
			"password": c.cfg.Password,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode sign-in payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/sign_in", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: sign-in failed: %v", common.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: sign-in returned %d", common.ErrAuthFailed, resp.StatusCode)
	}

	var signIn signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&signIn); err != nil {
		return "", fmt.Errorf("%w: failed to decode sign-in response: %v", common.ErrAuthFailed, err)
	}
	if signIn.Token == "" {
		return "", fmt.Errorf("%w: sign-in returned no token", common.ErrAuthFailed)
	}

	c.altToken = signIn.Token
	return c.altToken, nil
}

// normalizeAttributes is the single normalization step from the wire payload
// into the typed model. A missing or unparseable calculatedDistance is a
// data integrity warning, not a failure.
func (c *Client) normalizeAttributes(id string, attrs tripAttributes) *model.TripDetails {
	details := &model.TripDetails{
		LowAccuracy: attrs.LowGpsAccuracy,
		AutoEnded:   attrs.AutoEnded,
	}

	if dist, ok := parseDistance(attrs.CalculatedDistance); ok {
		details.CalculatedDistance = &dist
	} else {
		warn := &common.DataIntegrityWarning{
			Field:  "calculatedDistance",
			Detail: "missing or unparseable in trip payload",
		}
		c.logger.Warn(warn.Error(), "trip_id", id)
	}

	details.Coordinates = make([]model.Coordinate, 0, len(attrs.Coordinates))
	for _, pair := range attrs.Coordinates {
		if len(pair) < 2 {
			continue
		}
		// Wire order is [lng, lat].
		details.Coordinates = append(details.Coordinates, model.Coordinate{Lat: pair[1], Lng: pair[0]})
	}

	if len(attrs.Activity) > 0 {
		first := attrs.Activity[0]
		last := attrs.Activity[len(attrs.Activity)-1]

		for i := len(attrs.Activity) - 1; i >= 0; i-- {
			entry := attrs.Activity[i]
			if strings.Contains(entry.Action, "end") {
				actor := entry.Actor
				details.CompletedBy = &actor
				if details.AutoEnded == nil {
					auto := strings.Contains(entry.Action, "auto") || entry.Actor == "system"
					details.AutoEnded = &auto
				}
				break
			}
		}

		if !first.CreatedAt.IsZero() && !last.CreatedAt.IsZero() && !last.CreatedAt.Before(first.CreatedAt) {
			elapsed := last.CreatedAt.Sub(first.CreatedAt).Seconds()
			details.TripTime = &elapsed
		}
	}

	return details
}

// parseDistance accepts the distance either as a JSON number or as a quoted
// numeric string, the two shapes the API has been observed to return.
func parseDistance(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, true
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		str = strings.TrimSpace(str)
		if str == "" {
			return 0, false
		}
		if num, err := strconv.ParseFloat(str, 64); err == nil {
			return num, true
		}
	}

	return 0, false
}

func statusError(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", common.ErrAuthFailed, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", common.ErrUpstreamServer, status)
	default:
		return fmt.Errorf("%w: unexpected status %d", common.ErrNoData, status)
	}
}
