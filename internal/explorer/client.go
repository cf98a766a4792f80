package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ergo-live/internal/domain"
	"ergo-live/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrNotFound is returned when the explorer answers 404.
var ErrNotFound = errors.New("not found")

// Client is a REST client for the explorer API.
// Boxes and blocks are read from apiURL, token metadata from tokensURL.
type Client struct {
	apiURL      string
	tokensURL   string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithTokensURL sets the base URL of the token metadata service.
// Defaults to the API base URL.
func WithTokensURL(u string) ClientOption {
	return func(c *Client) {
		c.tokensURL = withSlash(u)
	}
}

// NewClient creates a new explorer REST client.
func NewClient(apiURL string, opts ...ClientOption) *Client {
	c := &Client{
		apiURL:      withSlash(apiURL),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	c.tokensURL = c.apiURL
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// statusError is a non-retryable HTTP status.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// do performs a request with retries and exponential backoff.
// Transport errors, 429 and 5xx are retried; 404 maps to ErrNotFound.
func (c *Client) do(ctx context.Context, op, method, endpoint string, reqBody, result any) error {
	start := time.Now()
	defer func() {
		observability.RecordExplorerLatency(op, time.Since(start).Seconds())
	}()

	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		case resp.StatusCode != http.StatusOK:
			return &statusError{code: resp.StatusCode, body: string(respBody)}
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetBox retrieves a box by id. Returns ErrNotFound for unknown boxes.
func (c *Client) GetBox(ctx context.Context, boxID string) (*domain.Box, error) {
	if boxID == "" {
		return nil, ErrNotFound
	}
	var box domain.Box
	if err := c.do(ctx, "get_box", http.MethodGet, c.apiURL+"boxes/"+url.PathEscape(boxID), nil, &box); err != nil {
		return nil, err
	}
	if box.ID == "" {
		return nil, ErrNotFound
	}
	return &box, nil
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

// GetTokensByID retrieves metadata for ids in one batched request.
// Unknown ids are simply absent from the result.
func (c *Client) GetTokensByID(ctx context.Context, ids []string) ([]*domain.Token, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	req := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}

	var resp itemsResponse[*domain.Token]
	if err := c.do(ctx, "get_tokens", http.MethodPost, c.tokensURL+"tokens/byId", req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// BlockQuery selects a page of block headers.
type BlockQuery struct {
	Limit         int
	Offset        int64
	SortBy        string
	SortDirection string
}

// GetBlocks retrieves block headers.
func (c *Client) GetBlocks(ctx context.Context, q BlockQuery) ([]domain.BlockInfo, error) {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.FormatInt(q.Offset, 10))
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortDirection != "" {
		v.Set("sortDirection", q.SortDirection)
	}

	var resp itemsResponse[domain.BlockInfo]
	if err := c.do(ctx, "get_blocks", http.MethodGet, c.apiURL+"blocks?"+v.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetBlockAtHeight returns the header at height (1-based), or nil when the
// explorer has not indexed it yet.
func (c *Client) GetBlockAtHeight(ctx context.Context, height int64) (*domain.BlockInfo, error) {
	offset := height - 1
	if offset < 0 {
		offset = 0
	}
	items, err := c.GetBlocks(ctx, BlockQuery{
		Limit:         1,
		Offset:        offset,
		SortBy:        "height",
		SortDirection: "asc",
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
