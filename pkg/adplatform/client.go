// Package adplatform is the HTTP client for the ad-platform sync sidecar,
// the external service that executes budget and status changes against the
// real Meta, Google and TikTok APIs.
package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/models"
)

// Client is the sync sidecar HTTP client.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient creates a new sync sidecar client.
func NewClient(cfg *config.AdPlatformConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.ServiceURL, "/"),
	}
}

// HealthResponse is the sidecar health payload.
type HealthResponse struct {
	Status    string   `json:"status"`
	Platforms []string `json:"platforms"`
	Version   string   `json:"version"`
}

// UpdateBudgetRequest asks the sidecar to set a campaign's daily budget on
// the remote platform.
type UpdateBudgetRequest struct {
	Platform    string          `json:"platform"`
	CampaignID  string          `json:"campaign_id"`
	DailyBudget decimal.Decimal `json:"daily_budget"`
	Currency    string          `json:"currency"`
}

// UpdateBudgetResponse confirms the remote change.
type UpdateBudgetResponse struct {
	Platform   string `json:"platform"`
	CampaignID string `json:"campaign_id"`
	Applied    bool   `json:"applied"`
	SyncedAt   string `json:"synced_at"`
}

// UpdateStatusRequest asks the sidecar to pause or resume a remote campaign.
type UpdateStatusRequest struct {
	Platform   string `json:"platform"`
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
}

// ErrorResponse is the sidecar error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck checks if the sync sidecar is reachable.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	err := c.makeRequest(ctx, "GET", "/health", nil, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// UpdateBudget pushes a daily budget change for a remote campaign.
func (c *Client) UpdateBudget(ctx context.Context, platform models.Platform, platformCampaignID string, newDailyBudget decimal.Decimal) error {
	req := &UpdateBudgetRequest{
		Platform:    string(platform),
		CampaignID:  platformCampaignID,
		DailyBudget: newDailyBudget,
		Currency:    "USD",
	}
	var response UpdateBudgetResponse
	if err := c.makeRequest(ctx, "POST", "/api/budget", req, &response); err != nil {
		return err
	}
	if !response.Applied {
		return fmt.Errorf("sync service did not apply budget for %s campaign %s", platform, platformCampaignID)
	}
	return nil
}

// UpdateStatus pushes a status change (pause/resume) for a remote campaign.
func (c *Client) UpdateStatus(ctx context.Context, platform models.Platform, platformCampaignID, status string) error {
	req := &UpdateStatusRequest{
		Platform:   string(platform),
		CampaignID: platformCampaignID,
		Status:     status,
	}
	return c.makeRequest(ctx, "POST", "/api/status", req, nil)
}

// makeRequest is a helper method to make HTTP requests to the sync sidecar.
func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "AdOps-Go/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("sync service error (%d): %s", resp.StatusCode, errorResp.Error)
		}
		return fmt.Errorf("sync service error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
