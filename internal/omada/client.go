// Package omada is a TP-Link Omada controller API client: session
// management, wireless client listing, and the name sync engine that
// pushes controller-side device names back into Home Assistant.
package omada

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmfaria/rssigrid/internal/httpkit"
)

// ClientRecord is one wireless client as reported by the controller.
// Only fields relevant to name sync are kept.
type ClientRecord struct {
	MAC      string `json:"mac"`
	Name     string `json:"name"`
	HostName string `json:"hostName"`
	IP       string `json:"ip"`
	SSID     string `json:"ssid"`
	Active   bool   `json:"active"`
}

// DisplayName returns the controller-assigned name, falling back to
// the reported hostname.
func (c ClientRecord) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.HostName
}

// envelope is the Omada API response wrapper. errorCode is the real
// failure signal: the controller returns HTTP 200 with a nonzero
// errorCode for application-level errors.
type envelope struct {
	ErrorCode int             `json:"errorCode"`
	Msg       string          `json:"msg"`
	Result    json.RawMessage `json:"result"`
}

// Client talks to a TP-Link Omada controller. Controllers use
// cookie-based sessions plus a Csrf-Token header, both obtained by
// the two-step login in session.go.
type Client struct {
	baseURL    string
	username   string
	password   string
	site       string
	httpClient *http.Client
	logger     *slog.Logger

	session session
}

// NewClient creates an Omada controller client. The URL should include
// the scheme and host. Controllers commonly run with self-signed
// certificates; pass verifySSL=false to skip verification.
func NewClient(baseURL, username, password, site string, verifySSL bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if site == "" {
		site = "Default"
	}
	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(15 * time.Second),
		httpkit.WithCookieJar(),
	}
	if !verifySSL {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		site:       site,
		httpClient: httpkit.NewClient(opts...),
		logger:     logger,
	}
}

// FetchClients retrieves the wireless client list for the configured
// site, authenticating first if needed. A 401 or 403 invalidates the
// session and triggers exactly one re-login and retry; all other
// failures surface immediately.
func (c *Client) FetchClients(ctx context.Context) ([]ClientRecord, error) {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	clients, status, err := c.fetchClientsOnce(ctx)
	if err == nil {
		return clients, nil
	}
	if status != http.StatusUnauthorized && status != http.StatusForbidden {
		return nil, err
	}

	c.logger.Warn("controller session rejected, re-authenticating", "status", status)
	c.Invalidate()
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	clients, _, err = c.fetchClientsOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("after re-authentication: %w", err)
	}
	return clients, nil
}

// fetchClientsOnce performs a single client list request. The returned
// status is nonzero only when the controller answered with a non-200
// HTTP status.
func (c *Client) fetchClientsOnce(ctx context.Context) ([]ClientRecord, int, error) {
	url := fmt.Sprintf("%s/%s/api/v2/sites/%s/clients?currentPage=1&currentPageSize=1000",
		c.baseURL, c.session.controllerID(), c.site)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Csrf-Token", c.session.csrfToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request clients: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, resp.StatusCode, fmt.Errorf("controller error %d: %s", resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	if env.ErrorCode != 0 {
		return nil, 0, fmt.Errorf("controller error %d: %s", env.ErrorCode, env.Msg)
	}

	var result struct {
		Data []ClientRecord `json:"data"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, 0, fmt.Errorf("decode client list: %w", err)
	}

	c.logger.Debug("fetched controller clients", "count", len(result.Data))
	return result.Data, 0, nil
}
