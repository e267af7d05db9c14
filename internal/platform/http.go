package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// restClient is the shared JSON-over-HTTP plumbing behind the production
// adapters. Endpoints are joined onto the base URL; non-2xx responses come
// back as *APIError so the taxonomy can classify them.
type restClient struct {
	base string
	hc   *http.Client
}

func (c *restClient) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	u := strings.TrimRight(c.base, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *restClient) Call(ctx context.Context, method, endpoint string, payload map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, method, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HTTPTagManager adapts the tag-manager REST surface.
type HTTPTagManager struct{ restClient }

func NewHTTPTagManager(baseURL string, hc *http.Client) *HTTPTagManager {
	return &HTTPTagManager{restClient{base: baseURL, hc: hc}}
}

func (c *HTTPTagManager) CreateTag(ctx context.Context, containerID string, tag Tag) (Tag, error) {
	var out Tag
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/containers/%s/tags", containerID), tag, &out)
	return out, err
}

func (c *HTTPTagManager) CreateTrigger(ctx context.Context, containerID string, trigger Trigger) (Trigger, error) {
	var out Trigger
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/containers/%s/triggers", containerID), trigger, &out)
	return out, err
}

func (c *HTTPTagManager) UpdateTag(ctx context.Context, containerID, tagID string, changes map[string]any) (Tag, error) {
	var out Tag
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/containers/%s/tags/%s", containerID, tagID), changes, &out)
	return out, err
}

func (c *HTTPTagManager) DeleteTag(ctx context.Context, containerID, tagID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/containers/%s/tags/%s", containerID, tagID), nil, nil)
}

// HTTPAdPlatform adapts the ad-platform REST surface.
type HTTPAdPlatform struct{ restClient }

func NewHTTPAdPlatform(baseURL string, hc *http.Client) *HTTPAdPlatform {
	return &HTTPAdPlatform{restClient{base: baseURL, hc: hc}}
}

func (c *HTTPAdPlatform) GetConversionAction(ctx context.Context, accountID, id string) (ConversionAction, error) {
	var out ConversionAction
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/accounts/%s/conversion-actions/%s", accountID, id), nil, &out)
	return out, err
}

func (c *HTTPAdPlatform) ListActiveAccounts(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/accounts?status=active", nil, &out)
	return out, err
}

func (c *HTTPAdPlatform) Query(ctx context.Context, accountID, query string) ([]map[string]any, error) {
	var out []map[string]any
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/accounts/%s/search", accountID), map[string]any{"query": query}, &out)
	return out, err
}

// HTTPCustomerService adapts the customer record REST surface.
type HTTPCustomerService struct{ restClient }

func NewHTTPCustomerService(baseURL string, hc *http.Client) *HTTPCustomerService {
	return &HTTPCustomerService{restClient{base: baseURL, hc: hc}}
}

func (c *HTTPCustomerService) FindByEmail(ctx context.Context, tenantID, email string) (*Customer, error) {
	var out []Customer
	endpoint := fmt.Sprintf("/tenants/%s/customers?email=%s", tenantID, url.QueryEscape(email))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (c *HTTPCustomerService) Create(ctx context.Context, cust Customer) (Customer, error) {
	var out Customer
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/tenants/%s/customers", cust.TenantID), cust, &out)
	return out, err
}

func (c *HTTPCustomerService) Update(ctx context.Context, cust Customer) (Customer, error) {
	var out Customer
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/tenants/%s/customers/%s", cust.TenantID, cust.ID), cust, &out)
	return out, err
}

// HTTPReplayer re-issues webhook calls against absolute URLs.
type HTTPReplayer struct{ hc *http.Client }

func NewHTTPReplayer(hc *http.Client) *HTTPReplayer { return &HTTPReplayer{hc} }

func (c *HTTPReplayer) Do(ctx context.Context, method, endpoint string, payload map[string]any) error {
	rc := restClient{base: endpoint, hc: c.hc}
	return rc.do(ctx, method, "", payload, nil)
}
