package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"camcopy/config"
)

// Client handles interactions with the Rhombus cloud API. The media session
// token is cached and refreshed on expiry; the client is safe for concurrent
// use by multiple footage jobs.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	mediaClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// sessionTokenDuration is the lifetime requested for federated session tokens.
const sessionTokenDuration = time.Hour

// tokenRefreshMargin renews the cached token this long before it expires so
// that in-flight segment requests do not race the expiry.
const tokenRefreshMargin = 5 * time.Minute

// NewClient creates a Rhombus API client from configuration.
func NewClient(cfg config.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing RHOMBUS_API_KEY")
	}
	return &Client{
		baseURL:    cfg.APIBaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Cameras on the LAN serve media over self-signed certificates, so
		// verification is disabled for the media session only.
		mediaClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}, nil
}

// post sends an authenticated JSON POST to an API endpoint and decodes the
// response into out (which may be nil).
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-auth-scheme", "api-token")
	req.Header.Set("x-auth-apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request to %s returned status %d: %s", path, resp.StatusCode, detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %v", path, err)
	}
	return nil
}

// SessionToken returns a federated session token for media requests,
// requesting a fresh one when the cached token is near expiry.
func (c *Client) SessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	var result struct {
		FederatedSessionToken string `json:"federatedSessionToken"`
	}
	body := map[string]interface{}{"durationSec": int(sessionTokenDuration.Seconds())}
	if err := c.post(ctx, "/api/org/generateFederatedSessionToken", body, &result); err != nil {
		return "", fmt.Errorf("failed to retrieve federated session token: %w", err)
	}
	if result.FederatedSessionToken == "" {
		return "", fmt.Errorf("federated session token response was empty")
	}

	c.token = result.FederatedSessionToken
	c.tokenExpiry = time.Now().Add(sessionTokenDuration)
	return c.token, nil
}

// InvalidateToken discards the cached session token if it matches the one a
// caller just failed with, forcing the next SessionToken call to refresh.
func (c *Client) InvalidateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

// MediaGet performs a GET against a media URI using the session token as the
// camera session cookie. The caller owns the response body.
func (c *Client) MediaGet(ctx context.Context, uri, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-auth-scheme", "api-token")
	req.Header.Set("x-auth-apikey", c.apiKey)
	req.Header.Set("Cookie", "RSESSIONID=RFT:"+token)
	return c.mediaClient.Do(req)
}
