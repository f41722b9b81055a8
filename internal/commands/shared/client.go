// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/pkg/httpclient"
)

// APIError is an error reply from the control surface.
type APIError struct {
	Status      int      `json:"-"`
	Code        string   `json:"code"`
	Message     string   `json:"error"`
	Detail      string   `json:"detail"`
	Suggestions []string `json:"suggestions"`

	// Body is the raw reply, for callers that want the record it may carry.
	Body []byte `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// Client calls the toolhub control surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the address from flags or environment.
func NewClient() *Client {
	return NewClientFor(GetAddr())
}

// NewClientFor creates a client for baseURL.
func NewClientFor(baseURL string) *Client {
	cfg := httpclient.DefaultConfig()
	v, _, _ := GetVersion()
	if v == "" {
		v = "dev"
	}
	cfg.UserAgent = "toolhub-cli/" + v
	cfg.Logger = cliLogger()

	client, err := httpclient.New(cfg)
	if err != nil {
		// DefaultConfig always validates.
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// cliLogger keeps request logs quiet unless TOOLHUB_DEBUG is set.
func cliLogger() *slog.Logger {
	cfg := toolhublog.FromEnv()
	cfg.Format = toolhublog.FormatText
	if d := os.Getenv("TOOLHUB_DEBUG"); d != "true" && d != "1" {
		cfg.Level = "error"
	}
	return toolhublog.New(cfg)
}

// Get performs a GET and returns the body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

// GetJSON decodes a GET reply into v.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	data, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewUnreachableError(c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Body: data}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}

// Stream performs a GET without the client timeout and returns the open
// body. The caller closes it.
func (c *Client) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	streaming := *c.http
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, NewUnreachableError(c.baseURL, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Body: data}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return resp.Body, nil
}
