// Package restclient is a minimal JSON client for the external HTTP
// collaborators (auth service, chat/events API).
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	http    *http.Client
	token   string
	devKey  string
	baseURL string
}

func New(baseURL string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
	}
}

// WithAuth sets the bearer token and/or development override key attached
// to every request.
func (c *Client) WithAuth(token, devKey string) *Client {
	c.token = token
	c.devKey = devKey
	return c
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.devKey != "" {
		req.Header.Set("X-Dev-Key", c.devKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) Get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	return c.do(req)
}

func (c *Client) Post(ctx context.Context, path string, data any) (int, []byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	return c.do(req)
}
