// Package intentd is a Go client for the intentd REST API.
package intentd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the intentd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("intentd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("intentd api error (%d): %s", e.StatusCode, e.Message)
}

// SupersededError is returned by Parse when a newer turn of the same session
// replaced this one. Result holds the partial outcome.
type SupersededError struct {
	Result *TurnResult
}

func (e *SupersededError) Error() string {
	return "intentd: turn superseded by a newer turn in the same session"
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the key sent in the X-API-Key header.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// Parse runs one turn synchronously.
func (c *Client) Parse(ctx context.Context, req Request) (*TurnResult, error) {
	var result TurnResult
	err := c.do(ctx, http.MethodPost, "/api/v1/parse", nil, req, &result)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusConflict && result.TurnID != "" {
		return &result, &SupersededError{Result: &result}
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitTurn queues one turn for asynchronous processing.
func (c *Client) SubmitTurn(ctx context.Context, req Request) (*Turn, error) {
	var t Turn
	if err := c.do(ctx, http.MethodPost, "/api/v1/turns", nil, req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTurn fetches a turn by id.
func (c *Client) GetTurn(ctx context.Context, id string) (*Turn, error) {
	var t Turn
	if err := c.do(ctx, http.MethodGet, "/api/v1/turns/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTurns lists turns matching q.
func (c *Client) ListTurns(ctx context.Context, q ListQuery) ([]Turn, error) {
	var body struct {
		Turns []Turn `json:"turns"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/turns", q.values(), nil, &body); err != nil {
		return nil, err
	}
	return body.Turns, nil
}

// TurnStats aggregates turns matching q. Limit and Offset are ignored.
func (c *Client) TurnStats(ctx context.Context, q ListQuery) (TurnStats, error) {
	var stats TurnStats
	q.Limit, q.Offset = 0, 0
	if err := c.do(ctx, http.MethodGet, "/api/v1/turns/stats", q.values(), nil, &stats); err != nil {
		return TurnStats{}, err
	}
	return stats, nil
}

// WaitForTurn polls until the turn is finished or ctx ends.
func (c *Client) WaitForTurn(ctx context.Context, id string, interval time.Duration) (*Turn, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTurn(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Finished() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.SessionID != "" {
		v.Set("session_id", q.SessionID)
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if q.Ascending {
		v.Set("order", "asc")
	}
	return v
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else if out != nil && resp.StatusCode == http.StatusConflict {
			// 被取代的同步解析在 409 中返回完整结果。
			_ = json.Unmarshal(data, out)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
