// Package fulfillment is the client for the commerce backend that owns
// carts, payment collections, and capture. It authenticates with the admin
// credentials and caches the bearer token in Redis so restarts and replicas
// share one session.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"payment-bridge/config"
	"payment-bridge/internal/util"
)

const authAttempts = 3

// TokenCache persists the admin bearer token between requests.
type TokenCache interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string, ttl time.Duration) error
	DeleteToken(ctx context.Context) error
}

type Client struct {
	cfg        config.FulfillmentConfig
	httpClient *http.Client
	tokens     TokenCache
	logger     *zap.Logger

	// test seam; defaults to time.Sleep
	sleep func(time.Duration)
}

// NewClient creates a fulfillment backend client
func NewClient(cfg config.FulfillmentConfig, tokens TokenCache) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     tokens,
		logger:     util.GetLogger(),
		sleep:      time.Sleep,
	}
}

func (c *Client) baseURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

func (c *Client) tokenTTL() time.Duration {
	if c.cfg.TokenTTLSeconds > 0 {
		return time.Duration(c.cfg.TokenTTLSeconds) * time.Second
	}
	return 23 * time.Hour
}

// Authenticate signs in with the admin credentials and caches the returned
// bearer token. Transient failures are retried with exponential backoff.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.cfg.AdminEmail == "" || c.cfg.AdminPassword == "" {
		return "", fmt.Errorf("fulfillment admin credentials not configured")
	}

	payload := map[string]string{
		"email":    c.cfg.AdminEmail,
		"password": c.cfg.AdminPassword,
	}

	var lastErr error
	for attempt := 0; attempt < authAttempts; attempt++ {
		if attempt > 0 {
			util.FulfillmentAuthRetriesTotal.Inc()
			c.sleep(time.Duration(1<<attempt) * time.Second)
		}

		status, body, err := c.do(ctx, http.MethodPost, "/auth/user/emailpass", nil, payload, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 400 {
			lastErr = fmt.Errorf("authentication returned %d: %s", status, truncate(string(body), 200))
			continue
		}

		var parsed struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil || parsed.Token == "" {
			lastErr = fmt.Errorf("authentication response missing token")
			continue
		}

		if err := c.tokens.SetToken(ctx, parsed.Token, c.tokenTTL()); err != nil {
			c.logger.Warn("failed to cache fulfillment token", zap.Error(err))
		}
		return parsed.Token, nil
	}
	return "", fmt.Errorf("fulfillment authentication failed after %d attempts: %w", authAttempts, lastErr)
}

func (c *Client) adminToken(ctx context.Context) (string, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		c.logger.Warn("token cache read failed, re-authenticating", zap.Error(err))
	}
	if token != "" {
		return token, nil
	}
	return c.Authenticate(ctx)
}

// ExecuteRequest performs an authenticated admin API call. A 401 clears the
// cached token and retries once with a fresh one, which covers tokens the
// backend invalidated before their TTL.
func (c *Client) ExecuteRequest(ctx context.Context, method, path string, query url.Values, payload any) (int, []byte, error) {
	token, err := c.adminToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	status, body, err := c.do(ctx, method, path, query, payload, map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusUnauthorized {
		return status, body, nil
	}

	c.logger.Info("fulfillment token rejected, re-authenticating", zap.String("path", path))
	if err := c.tokens.DeleteToken(ctx); err != nil {
		c.logger.Warn("failed to drop cached fulfillment token", zap.Error(err))
	}
	token, err = c.Authenticate(ctx)
	if err != nil {
		return 0, nil, err
	}
	return c.do(ctx, method, path, query, payload, map[string]string{"Authorization": "Bearer " + token})
}

// storeRequest performs a storefront API call using the publishable key.
func (c *Client) storeRequest(ctx context.Context, method, path string, query url.Values) (int, []byte, error) {
	headers := map[string]string{}
	if c.cfg.PublishableKey != "" {
		headers["x-publishable-api-key"] = c.cfg.PublishableKey
	}
	return c.do(ctx, method, path, query, nil, headers)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, headers map[string]string) (int, []byte, error) {
	endpoint := c.baseURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
