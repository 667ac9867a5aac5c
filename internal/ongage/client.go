package ongage

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

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/httpretry"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// Client is the Ongage API client
type Client struct {
	baseURL     string
	username    string
	password    string
	accountCode string
	listID      string
	pageSize    int
	httpClient  httpretry.HTTPDoer
	log         *logger.Logger
	now         func() time.Time
}

// NewClient creates a new Ongage API client
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:     config.BaseURL,
		username:    config.Username,
		password:    config.Password,
		accountCode: config.AccountCode,
		listID:      config.ListID,
		pageSize:    ClampPageSize(config.PageSize),
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, config.MaxRetries),
		log: logger.With("component", "ongage"),
		now: time.Now,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// PageSize returns the configured default page size.
func (c *Client) PageSize() int { return c.pageSize }

// doRequest performs an authenticated GET against the Ongage API and
// classifies every failure into the package error taxonomy. Cancellation of
// ctx is returned unwrapped.
func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X_USERNAME", c.username)
	req.Header.Set("X_PASSWORD", c.password)
	req.Header.Set("X_ACCOUNT_CODE", c.accountCode)
	if c.listID != "" {
		req.Header.Set("X_LIST_ID", c.listID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, resp.Header, respBody, c.now())
	}

	return respBody, nil
}

// getJSON fetches endpoint and decodes the envelope into out. A payload
// flagged as an error by the platform is an UpstreamError.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}, meta func() ResponseMetadata) error {
	body, err := c.doRequest(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{Status: http.StatusOK, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if m := meta(); m.Error {
		msg := m.Message
		if msg == "" {
			msg = "API returned error"
		}
		return &UpstreamError{Status: http.StatusOK, Err: errors.New(msg)}
	}
	return nil
}

func retryAfter(h http.Header, now time.Time) time.Duration {
	return httpretry.ParseRetryAfter(h.Get("Retry-After"), now)
}

// ========== Campaign/Mailing Methods ==========

// ListCampaigns returns a paginator over every campaign on the account.
// pageSize <= 0 uses the client default.
func (c *Client) ListCampaigns(pageSize int) *CampaignPaginator {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return &CampaignPaginator{client: c, pageSize: ClampPageSize(pageSize)}
}

func (c *Client) campaignPage(ctx context.Context, limit, offset int) (CampaignListResponse, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("is_test", "false")
	params.Set("sort", "id")
	params.Set("order", "ASC")

	var response CampaignListResponse
	err := c.getJSON(ctx, "/api/mailings?"+params.Encode(), &response, func() ResponseMetadata { return response.Metadata })
	return response, err
}

// GetCampaign retrieves a single campaign by ID
func (c *Client) GetCampaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	endpoint := fmt.Sprintf("/api/mailings/%s", url.PathEscape(campaignID))

	var response CampaignDetailResponse
	if err := c.getJSON(ctx, endpoint, &response, func() ResponseMetadata { return response.Metadata }); err != nil {
		return domain.Campaign{}, err
	}
	campaign := response.Payload.ToDomain()
	if campaign.ID == "" {
		campaign.ID = campaignID
	}
	return campaign, nil
}

// ========== Report Methods ==========

// FetchReport returns a paginator over one engagement report of one
// campaign. Each paginator owns its seen-set, so a contact is deduplicated
// within the report but shows up again in every other report it is part of.
func (c *Client) FetchReport(campaignID string, kind domain.ReportKind, pageSize int) *ReportPaginator {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	return &ReportPaginator{
		client:     c,
		campaignID: campaignID,
		kind:       kind,
		pageSize:   ClampPageSize(pageSize),
		seen:       make(map[string]struct{}),
	}
}

func (c *Client) reportPage(ctx context.Context, campaignID string, kind domain.ReportKind, limit, offset int) (ReportResponse, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	endpoint := fmt.Sprintf("/api/mailings/%s/reports/%s?%s", url.PathEscape(campaignID), kind, params.Encode())

	var response ReportResponse
	err := c.getJSON(ctx, endpoint, &response, func() ResponseMetadata { return response.Metadata })
	return response, err
}
