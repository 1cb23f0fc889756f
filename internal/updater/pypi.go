package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultPyPIURL = "https://pypi.org"
	pypiPackage    = "esphome"
	fetchTimeout   = 30 * time.Second
)

// PyPIClient fetches the latest published esphome version from the package
// registry's JSON API.
type PyPIClient struct {
	BaseURL string
	client  *http.Client
}

func NewPyPIClient() *PyPIClient {
	return &PyPIClient{
		BaseURL: defaultPyPIURL,
		client:  &http.Client{Timeout: fetchTimeout},
	}
}

type pypiResponse struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
}

// Latest returns the newest version string published on the registry.
func (c *PyPIClient) Latest(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.BaseURL, pypiPackage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s info: %w", pypiPackage, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned HTTP %d", resp.StatusCode)
	}
	var pr pypiResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode registry response: %w", err)
	}
	if pr.Info.Version == "" {
		return "", fmt.Errorf("registry response has no version")
	}
	return pr.Info.Version, nil
}
