package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	headerDeveloperToken  = "X-Developer-Token"
	headerLoginCustomerID = "X-Login-Customer-Id"
)

// HTTPClient talks to the ads API gateway. The gateway terminates OAuth and
// translates to the upstream platform protocol; this client only classifies
// its responses into the retryability taxonomy.
type HTTPClient struct {
	baseURL         string
	developerToken  string
	loginCustomerID string
	hc              *http.Client
}

type HTTPClientConfig struct {
	BaseURL         string
	DeveloperToken  string
	LoginCustomerID string
	Timeout         time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ads: gateway base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ads: bad gateway url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:         cfg.BaseURL,
		developerToken:  cfg.DeveloperToken,
		loginCustomerID: cfg.LoginCustomerID,
		hc:              &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) Get(ctx context.Context, sel Selector) ([]Entity, error) {
	u := fmt.Sprintf("%s/accounts/%s/entities?entity_type=%s&entity_id=%s",
		c.baseURL,
		url.PathEscape(sel.AccountID),
		url.QueryEscape(string(sel.EntityType)),
		url.QueryEscape(sel.EntityID),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func (c *HTTPClient) Mutate(ctx context.Context, mreq MutateRequest) (MutateResponse, error) {
	body, err := json.Marshal(mreq)
	if err != nil {
		return MutateResponse{}, err
	}
	u := fmt.Sprintf("%s/accounts/%s/mutations", c.baseURL, url.PathEscape(mreq.AccountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return MutateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out MutateResponse
	if err := c.do(req, &out); err != nil {
		return MutateResponse{}, err
	}
	return out, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set(headerDeveloperToken, c.developerToken)
	if c.loginCustomerID != "" {
		req.Header.Set(headerLoginCustomerID, c.loginCustomerID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Transport failures are retry-safe for Get; Mutate retries ride on
		// the gateway's idempotency keying by request body.
		return &Error{Kind: KindTransient, Code: "TRANSPORT", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindTransient, Code: "BAD_RESPONSE", Detail: err.Error()}
	}
	return nil
}

// classifyStatus maps gateway responses onto the retryability taxonomy:
// 429 carries a penalty window, 5xx is worth retrying, anything else 4xx is a
// terminal request problem.
func classifyStatus(resp *http.Response) error {
	var body struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = json.Unmarshal(raw, &body)
	if body.Code == "" {
		body.Code = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			Code:       body.Code,
			Detail:     body.Detail,
			RetryAfter: retryAfterOf(resp),
		}
	case resp.StatusCode >= 500:
		return &Error{Kind: KindTransient, Code: body.Code, Detail: body.Detail}
	default:
		return &Error{Kind: KindTerminal, Code: body.Code, Detail: body.Detail}
	}
}

func retryAfterOf(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
