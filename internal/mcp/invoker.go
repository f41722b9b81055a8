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

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp/transport"
)

// DefaultCallTimeout bounds a tool call when the server sets no timeout.
const DefaultCallTimeout = 30 * time.Second

// SessionProvider routes calls to live sessions. *Manager implements it.
type SessionProvider interface {
	CallTool(ctx context.Context, serverID, tool string, args map[string]any) (*transport.ToolResult, error)
	SessionConfig(serverID string) (ServerConfig, bool)
}

// ToolResolver maps a requested name to a catalog entry. *Catalog implements it.
type ToolResolver interface {
	Resolve(name string) (ToolDescriptor, bool)
}

// Request is one tool call.
type Request struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// InvocationResult is the outcome of one call. Record is always set.
// Result is set on success, and on tool errors that returned content.
type InvocationResult struct {
	Record InvocationRecord      `json:"record"`
	Result *transport.ToolResult `json:"result,omitempty"`
}

// BatchResult pairs a result with its error.
type BatchResult struct {
	Result *InvocationResult
	Err    error
}

// InvokerConfig configures the invoker.
type InvokerConfig struct {
	// Sessions routes calls (required).
	Sessions SessionProvider

	// Catalog resolves tool names (required).
	Catalog ToolResolver

	// Log persists invocation records (optional).
	Log InvocationLog

	// Tracker aggregates records. A new tracker is created if nil.
	Tracker *MetricsTracker

	// Metrics records Prometheus metrics (optional).
	Metrics *Metrics

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// DefaultTimeout defaults to DefaultCallTimeout.
	DefaultTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Invoker dispatches tool calls to the server that owns them and records
// every attempt.
type Invoker struct {
	sessions       SessionProvider
	catalog        ToolResolver
	log            InvocationLog
	tracker        *MetricsTracker
	metrics        *Metrics
	tracer         trace.Tracer
	defaultTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewInvoker creates an invoker.
func NewInvoker(cfg InvokerConfig) (*Invoker, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session provider is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}

	i := &Invoker{
		sessions:       cfg.Sessions,
		catalog:        cfg.Catalog,
		log:            cfg.Log,
		tracker:        cfg.Tracker,
		metrics:        cfg.Metrics,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         cfg.Logger,
		now:            cfg.Now,
		limiters:       make(map[string]*rate.Limiter),
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	i.logger = toolhublog.WithComponent(i.logger, "invoker")
	if i.now == nil {
		i.now = time.Now
	}
	if i.tracker == nil {
		i.tracker = NewMetricsTracker(0, i.now)
	}
	if i.defaultTimeout <= 0 {
		i.defaultTimeout = DefaultCallTimeout
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	i.tracer = tp.Tracer(tracerName)

	return i, nil
}

// Tracker returns the metrics tracker fed by this invoker.
func (i *Invoker) Tracker() *MetricsTracker {
	return i.tracker
}

// Invoke calls a tool by catalog name. The returned result is never nil and
// its record describes the attempt; err is a *ToolNotFoundError,
// *InvocationError, or nil.
func (i *Invoker) Invoke(ctx context.Context, name string, args map[string]any) (*InvocationResult, error) {
	start := i.now()
	rec := InvocationRecord{ID: uuid.NewString(), ToolName: name, Arguments: args}

	desc, ok := i.catalog.Resolve(name)
	if !ok {
		err := &ToolNotFoundError{Name: name}
		return i.finish(rec, start, nil, err), err
	}
	rec.ServerID = desc.ServerID

	ctx, span := i.tracer.Start(ctx, "mcp.invoke", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.original_name", desc.OriginalName),
		attribute.String("server.id", desc.ServerID),
		attribute.String("invocation.id", rec.ID),
	))
	defer span.End()

	timeout := i.defaultTimeout
	var limiter *rate.Limiter
	if cfg, ok := i.sessions.SessionConfig(desc.ServerID); ok {
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		limiter = i.limiter(cfg)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *transport.ToolResult
	var err error
	if limiter != nil {
		if werr := limiter.Wait(cctx); werr != nil {
			err = NewInvocationError(ErrorKindRateLimited, desc.ServerID, name, werr)
		}
	}
	if err == nil {
		result, err = i.sessions.CallTool(cctx, desc.ServerID, desc.OriginalName, args)
		err = classify(desc.ServerID, name, result, err)
	}

	out := i.finish(rec, start, result, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.SetAttributes(attribute.Int64("invocation.latency_ms", out.Record.LatencyMs))
	return out, err
}

// InvokeBatch runs every request concurrently. Results are in request
// order; one failure never affects the others.
func (i *Invoker) InvokeBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	for idx, req := range reqs {
		g.Go(func() error {
			res, err := i.Invoke(ctx, req.Tool, req.Arguments)
			results[idx] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Reject records a call that was refused before dispatch because its
// arguments could not be decoded. The record is attributed to the server
// that owns name when it resolves, but does not count against its health.
func (i *Invoker) Reject(ctx context.Context, name string, cause error) (*InvocationResult, error) {
	start := i.now()
	rec := InvocationRecord{ID: uuid.NewString(), ToolName: name}
	if desc, ok := i.catalog.Resolve(name); ok {
		rec.ServerID = desc.ServerID
	}
	err := NewInvocationError(ErrorKindInvalidArguments, rec.ServerID, name, cause)
	return i.finish(rec, start, nil, err), err
}

// classify converts a call outcome into an InvocationError.
func classify(serverID, tool string, result *transport.ToolResult, err error) error {
	if err == nil {
		if result != nil && result.IsError {
			msg := result.Text()
			if msg == "" {
				msg = "tool reported an error"
			}
			return NewInvocationError(ErrorKindTool, serverID, tool, errors.New(msg))
		}
		return nil
	}

	var rpcErr *transport.RPCError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewInvocationError(ErrorKindTimeout, serverID, tool, err)
	case errors.As(err, &rpcErr):
		return NewInvocationError(ErrorKindTool, serverID, tool, err)
	default:
		return NewInvocationError(ErrorKindTransport, serverID, tool, err)
	}
}

// finish stamps the record with its completion time and records it. The
// invocation log orders records by that timestamp, so calls on different
// servers never wait on each other's bookkeeping.
func (i *Invoker) finish(rec InvocationRecord, start time.Time, result *transport.ToolResult, err error) *InvocationResult {
	now := i.now()
	rec.Timestamp = now
	rec.LatencyMs = now.Sub(start).Milliseconds()
	rec.Success = err == nil
	if err != nil {
		rec.ErrorKind = KindOf(err)
		rec.Error = err.Error()
		rec.OutcomeUnknown = rec.ErrorKind == ErrorKindTimeout || errors.Is(err, context.Canceled)
	}

	i.tracker.Record(rec)
	i.metrics.observeInvocation(rec)

	if i.log != nil {
		if lerr := i.log.AppendInvocation(context.Background(), rec); lerr != nil {
			i.logger.Error("failed to persist invocation record", toolhublog.CorrelationIDKey, rec.ID, "error", lerr)
		}
	}

	attrs := []any{
		toolhublog.CorrelationIDKey, rec.ID,
		toolhublog.ToolKey, rec.ToolName,
		toolhublog.ServerIDKey, rec.ServerID,
		toolhublog.DurationKey, rec.LatencyMs,
	}
	if err != nil {
		i.logger.Warn("tool invocation failed", append(attrs, "error_kind", string(rec.ErrorKind), "error", rec.Error)...)
	} else {
		i.logger.Debug("tool invocation succeeded", attrs...)
	}

	return &InvocationResult{Record: rec, Result: result}
}

// limiter returns the limiter for a server's configured rate, or nil when
// the server is unlimited.
func (i *Invoker) limiter(cfg ServerConfig) *rate.Limiter {
	i.limitersMu.Lock()
	defer i.limitersMu.Unlock()

	if cfg.RateLimit <= 0 {
		delete(i.limiters, cfg.ID)
		return nil
	}

	want := rate.Limit(cfg.RateLimit)
	if l, ok := i.limiters[cfg.ID]; ok && l.Limit() == want {
		return l
	}
	burst := int(math.Max(1, math.Ceil(cfg.RateLimit)))
	l := rate.NewLimiter(want, burst)
	i.limiters[cfg.ID] = l
	return l
}
