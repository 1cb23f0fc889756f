package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running esphomed control API.
type Client struct {
	baseURL string
	client  *http.Client
	// updates stop, reinstall and restart the dashboard, which takes far
	// longer than a status call
	slowClient *http.Client
	logger     *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL      string
	Timeout      time.Duration // per ordinary request
	ApplyTimeout time.Duration // per update apply request
	Logger       *slog.Logger
}

// DefaultConfig returns the configuration matching esphomed's default
// listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://127.0.0.1:6053/api",
		Timeout:      10 * time.Second,
		ApplyTimeout: 15 * time.Minute,
	}
}

// New creates an API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.ApplyTimeout == 0 {
		config.ApplyTimeout = def.ApplyTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL:    config.BaseURL,
		client:     &http.Client{Timeout: config.Timeout},
		slowClient: &http.Client{Timeout: config.ApplyTimeout},
		logger:     config.Logger,
	}
}

// IsReachable reports whether a control API answers at the base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "err", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.getJSON(ctx, c.baseURL+"/status", &st)
	return st, err
}

// Start asks the daemon to launch the dashboard.
func (c *Client) Start(ctx context.Context) error {
	return c.post(ctx, c.client, c.baseURL+"/start", nil, nil)
}

// Stop asks the daemon to terminate the dashboard.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, c.client, c.baseURL+"/stop", nil, nil)
}

// Restart asks the daemon to restart the dashboard.
func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, c.client, c.baseURL+"/restart", nil, nil)
}

// WaitReady blocks until the dashboard answers HTTP or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) (bool, error) {
	u := c.baseURL + "/ready"
	if timeout > 0 {
		u += "?timeout=" + url.QueryEscape(timeout.String())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.slowClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, c.errorFromResponse(resp)
	}
	var body struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return body.Ready, nil
}

// CheckUpdate asks the daemon to compare installed and latest versions.
func (c *Client) CheckUpdate(ctx context.Context) (CheckResult, error) {
	var res CheckResult
	err := c.post(ctx, c.client, c.baseURL+"/update/check", nil, &res)
	return res, err
}

// ApplyUpdate installs version; an empty version means "latest if newer".
func (c *Client) ApplyUpdate(ctx context.Context, version string) (ApplyResult, error) {
	var body []byte
	if version != "" {
		body, _ = json.Marshal(map[string]string{"version": version})
	}
	var res ApplyResult
	err := c.post(ctx, c.slowClient, c.baseURL+"/update/apply", body, &res)
	return res, err
}

// RecentEvents fetches the newest daemon start/stop events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := c.getJSON(ctx, c.historyURL("events", limit), &out)
	return out, err
}

// RecentUpdates fetches the newest update attempts.
func (c *Client) RecentUpdates(ctx context.Context, limit int) ([]UpdateRecord, error) {
	var out []UpdateRecord
	err := c.getJSON(ctx, c.historyURL("updates", limit), &out)
	return out, err
}

func (c *Client) historyURL(kind string, limit int) string {
	u := c.baseURL + "/history/" + kind
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "url", url, "err", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
}
