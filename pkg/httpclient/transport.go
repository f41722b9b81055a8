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
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	toolhublog "github.com/tombee/toolhub/internal/log"
)

// loggingTransport sets identifying headers and logs each round trip.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingTransport{base: base, userAgent: userAgent, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get(toolhublog.RequestIDHeader) == "" {
		req.Header.Set(toolhublog.RequestIDHeader, uuid.NewString())
	}

	resp, err := t.base.RoundTrip(req)
	attrs := []any{
		"method", req.Method,
		"url", sanitizeURL(req.URL),
		"request_id", req.Header.Get(toolhublog.RequestIDHeader),
		toolhublog.DurationKey, time.Since(start).Milliseconds(),
	}

	if err != nil {
		t.logger.Debug("http request failed", append(attrs, toolhublog.Error(err))...)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 500 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
