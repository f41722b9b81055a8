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

// Package httpclient builds the HTTP client toolhub's command line uses to
// reach a running hub.
//
// The client retries transient failures of idempotent requests with
// exponential backoff, stamps every request with a User-Agent and an
// X-Request-ID, and logs each round trip through log/slog with sensitive
// query parameters redacted.
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "toolhub-cli/" + version
//	client, err := httpclient.New(cfg)
//
// Only GET, HEAD, and OPTIONS are retried unless AllowNonIdempotentRetry is
// set: a POST /v1/invoke may already have reached the tool server.
package httpclient
