package api

// API CLIENT

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"quote-engine/internal/pricing"
)

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client for a quote server. token may be empty.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	var caps Capabilities
	if err := c.do(ctx, http.MethodGet, "/v1/capabilities", nil, http.StatusOK, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// Quote prices a configuration without creating a session.
func (c *Client) Quote(ctx context.Context, cfg pricing.ServiceConfiguration) (*Quote, error) {
	var q Quote
	if err := c.do(ctx, http.MethodPost, "/v1/quotes", cfg, http.StatusOK, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, http.StatusCreated, &s); err != nil {
		return "", err
	}
	return s.ID, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	return c.session(ctx, http.MethodGet, sessionPath(id), nil)
}

func (c *Client) PatchSession(ctx context.Context, id string, patch SessionPatch) (*Session, error) {
	return c.session(ctx, http.MethodPatch, sessionPath(id), patch)
}

// Confirm recomputes the session's price on the server. A *StatusError with
// code 409 means the configuration changed while it was being priced.
func (c *Client) Confirm(ctx context.Context, id string) (*Session, error) {
	return c.session(ctx, http.MethodPost, sessionPath(id)+"/confirm", nil)
}

// Checkout returns the final quote and ends the session.
func (c *Client) Checkout(ctx context.Context, id string) (*Session, error) {
	return c.session(ctx, http.MethodDelete, sessionPath(id), nil)
}

// Receipt downloads the session receipt as "text" or "xlsx".
func (c *Client) Receipt(ctx context.Context, id, format string) ([]byte, error) {
	path := sessionPath(id) + "/receipt?format=" + url.QueryEscape(format)
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (c *Client) session(ctx context.Context, method, path string, body any) (*Session, error) {
	var s Session
	if err := c.do(ctx, method, path, body, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	c.logger.Debug("API call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return resp, nil
}

func statusError(resp *http.Response) error {
	var body ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(id)
}
