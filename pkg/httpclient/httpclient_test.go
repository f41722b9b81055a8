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

package httpclient

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.UserAgent = "toolhub-test/1"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, errText: "timeout must be > 0"},
		{name: "negative retries", modify: func(c *Config) { c.RetryAttempts = -1 }, errText: "retry_attempts"},
		{name: "zero backoff", modify: func(c *Config) { c.RetryBackoff = 0 }, errText: "retry_backoff"},
		{name: "max below base", modify: func(c *Config) { c.MaxBackoff = time.Millisecond }, errText: "max_backoff"},
		{name: "no retries ignores backoff", modify: func(c *Config) { c.RetryAttempts = 0; c.RetryBackoff = 0 }},
		{name: "empty user agent", modify: func(c *Config) { c.UserAgent = "" }, errText: "user_agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errText == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestNew_SetsHeaders(t *testing.T) {
	var ua, rid string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		rid = r.Header.Get("X-Request-ID")
	}))
	defer srv.Close()

	client, err := New(testConfig())
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "toolhub-test/1", ua)
	assert.Len(t, rid, 36)
}

func TestNew_KeepsCallerRequestID(t *testing.T) {
	var rid string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid = r.Header.Get("X-Request-ID")
	}))
	defer srv.Close()

	client, err := New(testConfig())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "fixed")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "fixed", rid)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRetry_IdempotentRetriedUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	client, err := New(testConfig())
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := New(testConfig())
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetry_PostNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := New(testConfig())
	require.NoError(t, err)

	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 1, calls.Load())
}

func TestRetry_PostRetriedWhenAllowed(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.AllowNonIdempotentRetry = true
	client, err := New(cfg)
	require.NoError(t, err)

	resp, err := client.Post(srv.URL, "application/json", bytes.NewReader([]byte(`{"a":1}`)))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := New(testConfig())
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 1, calls.Load())
}

func TestRetryableError(t *testing.T) {
	assert.True(t, retryableError(&url.Error{Op: "Get", Err: syscall.ECONNREFUSED}))
	assert.False(t, retryableError(errors.New("boom")))
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Zero(t, retryAfter(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(resp))

	resp.Header.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(resp))
}

func TestBackoffCapped(t *testing.T) {
	rt := newRetryTransport(nil, testConfig())
	for n := 1; n < 10; n++ {
		assert.LessOrEqual(t, rt.backoff(n), time.Duration(float64(rt.maxBackoff)*1.2))
	}
}

func TestSanitizeURL(t *testing.T) {
	u, err := url.Parse("http://hub/v1/tools?api_key=abc&server=web")
	require.NoError(t, err)

	out := sanitizeURL(u)
	assert.Contains(t, out, "server=web")
	assert.NotContains(t, out, "abc")
	assert.Empty(t, sanitizeURL(nil))
}

func TestLoggingTransport_LogsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var buf bytes.Buffer
	cfg := testConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := New(cfg)
	require.NoError(t, err)

	resp, err := client.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, buf.String(), "http request")
	assert.Contains(t, buf.String(), "status=200")
	assert.Contains(t, buf.String(), "/v1/status")
}
