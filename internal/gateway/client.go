package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/kousu-tools/workload-form/internal/resilience"
)

// Endpoint paths on the workload management backend.
const (
	ticketsPath         = "/projects/api/tickets/"
	outsourcingCostPath = "/cost-master/api/ticket-outsourcing-cost/"
	workdaysPath        = "/reports/calculate-workdays/"
	workdaysByRangePath = "/reports/api/calculate-workdays/"
)

// Option configures the HTTP gateway client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second. Zero disables the
// limiter.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry sets the retry configuration for lookup calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a gateway client against the given backend base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the success-flag wrapper every endpoint responds with.
// Failures are signaled in-band, never by throwing into caller state.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *httpClient) FetchTickets(ctx context.Context, projectID string) ([]Ticket, error) {
	if projectID == "" {
		return nil, eris.New("gateway: project id is required")
	}

	q := url.Values{"project_id": {projectID}}
	body, err := c.get(ctx, "tickets", ticketsPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		envelope
		Tickets []Ticket `json:"tickets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "gateway: unmarshal tickets response")
	}
	if !resp.Success {
		return nil, eris.Errorf("gateway: tickets lookup refused: %s", orUnknown(resp.Error))
	}

	// An empty list is a valid answer for a project with no tickets.
	return resp.Tickets, nil
}

func (c *httpClient) FetchOutsourcingCost(ctx context.Context, ticketID, yearMonth string) (*OutsourcingCost, error) {
	if ticketID == "" {
		return nil, eris.New("gateway: ticket id is required")
	}

	q := url.Values{"ticket_id": {ticketID}, "year_month": {yearMonth}}
	body, err := c.get(ctx, "outsourcing-cost", outsourcingCostPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp struct {
		envelope
		OutsourcingCost
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "gateway: unmarshal outsourcing cost response")
	}
	if !resp.Success {
		return nil, eris.Errorf("gateway: outsourcing cost lookup refused: %s", orUnknown(resp.Error))
	}

	out := resp.OutsourcingCost
	return &out, nil
}

func (c *httpClient) FetchWorkdays(ctx context.Context, ticketID, classification string) (*Workdays, error) {
	if ticketID == "" {
		return nil, eris.New("gateway: ticket id is required")
	}
	if classification == "" {
		classification = "development"
	}

	form := url.Values{
		"ticket_id":      {ticketID},
		"classification": {classification},
	}
	body, err := c.postForm(ctx, "workdays", workdaysPath, form)
	if err != nil {
		return nil, err
	}

	return parseWorkdays(body)
}

func (c *httpClient) FetchWorkdaysByDateRange(ctx context.Context, caseID, orderDate, endDate string) (*Workdays, error) {
	if caseID == "" {
		return nil, eris.New("gateway: case id is required")
	}

	payload, err := json.Marshal(map[string]string{
		"case_id":         caseID,
		"order_date":      orderDate,
		"actual_end_date": endDate,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gateway: marshal workdays request")
	}

	body, err := c.postJSON(ctx, "workdays-range", workdaysByRangePath, payload)
	if err != nil {
		return nil, err
	}

	return parseWorkdays(body)
}

func parseWorkdays(body []byte) (*Workdays, error) {
	var resp struct {
		envelope
		Workdays
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "gateway: unmarshal workdays response")
	}
	if !resp.Success {
		return nil, eris.Errorf("gateway: workdays lookup refused: %s", orUnknown(resp.Error))
	}

	wd := resp.Workdays
	return &wd, nil
}

func (c *httpClient) get(ctx context.Context, lookup, path string) ([]byte, error) {
	return c.do(ctx, lookup, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	})
}

func (c *httpClient) postForm(ctx context.Context, lookup, path string, form url.Values) ([]byte, error) {
	encoded := form.Encode()
	return c.do(ctx, lookup, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (c *httpClient) postJSON(ctx context.Context, lookup, path string, payload []byte) ([]byte, error) {
	return c.do(ctx, lookup, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// do executes a request with rate limiting and retries on transient
// failures, returning the response body of a 200.
func (c *httpClient) do(ctx context.Context, lookup string, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(lookup)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrapf(err, "gateway: %s rate limit wait", lookup)
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "gateway: create %s request", lookup)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "gateway: %s request failed", lookup)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "gateway: read %s response", lookup)
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("gateway: %s status %d: %s", lookup, resp.StatusCode, truncate(body)),
				resp.StatusCode,
			)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("gateway: %s unexpected status %d: %s", lookup, resp.StatusCode, truncate(body))
		}

		return body, nil
	})
}

func orUnknown(reason string) string {
	if reason == "" {
		return "unknown error"
	}
	return reason
}

func truncate(body []byte) string {
	const max = 256
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
