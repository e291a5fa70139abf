// Package warehouse provides a client for the analytics-warehouse question
// API: session-token auth, row-capped queries, and full-result exports.
package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fleetops/tripsync/internal/common"
	"github.com/fleetops/tripsync/internal/service"
)

// QueryRowCap is the maximum number of rows the standard query endpoint
// returns. Callers expecting more rows should prefer RunExport.
const QueryRowCap = 2000

// Config holds warehouse API configuration.
type Config struct {
	URL           string
	Username      string
	Password      string
	Timeout       time.Duration
	ExportTimeout time.Duration
	MaxRetries    int
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: warehouse URL is required", common.ErrMissingConfig)
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: warehouse username and password are required", common.ErrMissingConfig)
	}
	return nil
}

// Client implements the service.WarehouseRunner interface.
type Client struct {
	httpClient   *http.Client
	exportClient *http.Client
	logger       *slog.Logger
	cfg          Config

	mu      sync.Mutex
	session string
}

// NewClient creates a new warehouse client. The session token is obtained
// lazily on first use and refreshed on 401.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		exportClient: &http.Client{Timeout: cfg.ExportTimeout},
		logger:       common.ComponentLogger("warehouse"),
	}, nil
}

type sessionResponse struct {
	ID string `json:"id"`
}

type queryResponse struct {
	Data struct {
		Rows [][]any `json:"rows"`
		Cols []struct {
			Name        string `json:"name"`
			DisplayName string `json:"display_name"`
		} `json:"cols"`
	} `json:"data"`
}

// RunQuery executes a question through the row-capped query endpoint. On
// exhausted retries with a non-empty parameter set it retries once more with
// no parameters, which works around over-specific filters the warehouse
// rejects with a 500.
func (c *Client) RunQuery(ctx context.Context, questionID int, params []service.QueryParameter) ([]map[string]any, error) {
	rows, err := c.runQuery(ctx, questionID, params)
	if err != nil && errors.Is(err, common.ErrUpstreamServer) && len(params) > 0 {
		c.logger.Warn("Query failed with parameters, retrying unparameterized",
			"question_id", questionID,
			"error", err)
		return c.runQuery(ctx, questionID, nil)
	}
	return rows, err
}

func (c *Client) runQuery(ctx context.Context, questionID int, params []service.QueryParameter) ([]map[string]any, error) {
	payload, err := json.Marshal(map[string]any{"parameters": queryParams(params)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query parameters: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/card/%d/query", c.cfg.URL, questionID)

	body, err := c.doWithRetries(ctx, c.httpClient, endpoint, "application/json", func() io.Reader {
		return bytes.NewReader(payload)
	})
	if err != nil {
		return nil, err
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("%w: failed to decode query response: %v", common.ErrNoData, err)
	}

	return zipRows(qr), nil
}

// RunExport executes a question through the export endpoint, which bypasses
// the query endpoint's row cap. The payload is form-encoded and the response
// is either a bare JSON array of row objects or the rows/cols shape.
func (c *Client) RunExport(ctx context.Context, questionID int, params []service.QueryParameter, format string) ([]map[string]any, error) {
	if format == "" {
		format = "json"
	}

	paramJSON, err := json.Marshal(queryParams(params))
	if err != nil {
		return nil, fmt.Errorf("failed to encode export parameters: %w", err)
	}
	form := url.Values{"parameters": {string(paramJSON)}}
	encoded := form.Encode()

	endpoint := fmt.Sprintf("%s/api/card/%d/query/%s", c.cfg.URL, questionID, format)

	body, err := c.doWithRetries(ctx, c.exportClient, endpoint, "application/x-www-form-urlencoded", func() io.Reader {
		return strings.NewReader(encoded)
	})
	if err != nil {
		return nil, err
	}

	// Preferred shape: a bare array of row objects.
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("%w: failed to decode export response: %v", common.ErrNoData, err)
	}

	return zipRows(qr), nil
}

// doWithRetries posts to the warehouse with the session header, handling the
// full retry policy: one re-authentication on 401, exponential backoff on
// 5xx, linear backoff on timeout. All budgets are finite.
func (c *Client) doWithRetries(ctx context.Context, client *http.Client, endpoint, contentType string, bodyFn func() io.Reader) ([]byte, error) {
	reauthed := false
	serverDelay := 2 * time.Second
	const timeoutDelay = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		session, err := c.ensureSession(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bodyFn())
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Metabase-Session", session)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", common.ErrTransient, err)
			if isTimeout(err) {
				c.logger.Warn("Warehouse request timed out, retrying",
					"attempt", attempt,
					"endpoint", endpoint)
				if !sleep(ctx, timeoutDelay) {
					return nil, ctx.Err()
				}
				continue
			}
			if !sleep(ctx, timeoutDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: %v", common.ErrTransient, readErr)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized:
			if reauthed {
				return nil, fmt.Errorf("%w: session rejected after re-authentication", common.ErrAuthFailed)
			}
			reauthed = true
			c.invalidateSession()
			c.logger.Info("Warehouse session expired, re-authenticating")
			// Does not consume a retry attempt.
			attempt--
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: status %d", common.ErrUpstreamServer, resp.StatusCode)
			c.logger.Warn("Warehouse server error, retrying",
				"attempt", attempt,
				"status", resp.StatusCode,
				"delay", serverDelay)
			if !sleep(ctx, serverDelay) {
				return nil, ctx.Err()
			}
			serverDelay *= 2
		default:
			return nil, fmt.Errorf("%w: unexpected status %d", common.ErrNoData, resp.StatusCode)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: retries exhausted", common.ErrUpstreamServer)
	}
	return nil, lastErr
}

// ensureSession returns the current session token, authenticating if needed.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != "" {
		return c.session, nil
	}

	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session payload: %w", err)
	}

	var session sessionResponse
	authErr := common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/session", bytes.NewReader(payload))
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			retryable := resp.StatusCode >= 500
			return &common.RetryableError{
				Err:       fmt.Errorf("session endpoint returned %d", resp.StatusCode),
				Retryable: retryable,
			}
		}

		return json.NewDecoder(resp.Body).Decode(&session)
	}, service.RetryOptions{
		MaxAttempts:  c.cfg.MaxRetries,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	})
	if authErr != nil {
		return "", fmt.Errorf("%w: %v", common.ErrAuthFailed, authErr)
	}
	if session.ID == "" {
		return "", fmt.Errorf("%w: session endpoint returned no token", common.ErrAuthFailed)
	}

	c.session = session.ID
	return c.session, nil
}

func (c *Client) invalidateSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

// queryParams converts service parameters into the warehouse wire shape.
func queryParams(params []service.QueryParameter) []map[string]any {
	out := make([]map[string]any, 0, len(params))
	for _, p := range params {
		out = append(out, map[string]any{
			"type":   p.Type,
			"target": p.Target,
			"value":  p.Value,
		})
	}
	return out
}

// zipRows joins the rows/cols response shape into named row maps.
func zipRows(qr queryResponse) []map[string]any {
	rows := make([]map[string]any, 0, len(qr.Data.Rows))
	for _, raw := range qr.Data.Rows {
		row := make(map[string]any, len(qr.Data.Cols))
		for i, col := range qr.Data.Cols {
			if i < len(raw) {
				row[col.Name] = raw[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
