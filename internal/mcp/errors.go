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
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable, machine-readable error category.
type ErrorCode string

const (
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeAlreadyExists   ErrorCode = "ALREADY_EXISTS"
	ErrorCodeValidation      ErrorCode = "VALIDATION"
	ErrorCodeImmutable       ErrorCode = "IMMUTABLE"
	ErrorCodeDisabled        ErrorCode = "DISABLED"
	ErrorCodeStartFailed     ErrorCode = "START_FAILED"
	ErrorCodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	ErrorCodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	ErrorCodeNotConnected    ErrorCode = "NOT_CONNECTED"
	ErrorCodeToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
	ErrorCodeTimeout         ErrorCode = "TIMEOUT"
	ErrorCodeTransport       ErrorCode = "TRANSPORT"
	ErrorCodeToolFailed      ErrorCode = "TOOL_FAILED"
	ErrorCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorCodeInternal        ErrorCode = "INTERNAL"
)

// MCPError carries a code, optional detail, and suggestions for the operator.
type MCPError struct {
	Code        ErrorCode
	Message     string
	Detail      string
	Suggestions []string
	Cause       error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the error category.
func (e *MCPError) ErrorCode() ErrorCode {
	return e.Code
}

// Verbose renders the error with its suggestions, for terminal output.
func (e *MCPError) Verbose() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Detail != "" {
		sb.WriteString("  → ")
		sb.WriteString(e.Detail)
		sb.WriteString("\n")
	}
	if e.Cause != nil {
		sb.WriteString("  → ")
		sb.WriteString(e.Cause.Error())
		sb.WriteString("\n")
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// ConfigError reports an invalid server configuration or registry operation.
type ConfigError struct {
	*MCPError
	ServerID string
	Field    string
}

// NewConfigError creates a ConfigError.
func NewConfigError(code ErrorCode, serverID, field, message string) *ConfigError {
	return &ConfigError{
		MCPError: &MCPError{Code: code, Message: message},
		ServerID: serverID,
		Field:    field,
	}
}

// ConnectionError reports a failed connect or an operation on a server
// that is not connected.
type ConnectionError struct {
	*MCPError
	ServerID string
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(code ErrorCode, serverID, message string, cause error) *ConnectionError {
	return &ConnectionError{
		MCPError: &MCPError{Code: code, Message: message, Cause: cause},
		ServerID: serverID,
	}
}

// ToolNotFoundError reports a tool name absent from the catalog.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ErrorCode returns ErrorCodeToolNotFound.
func (e *ToolNotFoundError) ErrorCode() ErrorCode {
	return ErrorCodeToolNotFound
}

// InvocationError reports a failed tool call.
type InvocationError struct {
	*MCPError
	Kind     ErrorKind
	ServerID string
	Tool     string
}

// NewInvocationError creates an InvocationError of the given kind.
func NewInvocationError(kind ErrorKind, serverID, tool string, cause error) *InvocationError {
	code := ErrorCodeInternal
	msg := "invocation failed"
	switch kind {
	case ErrorKindTimeout:
		code, msg = ErrorCodeTimeout, "invocation timed out"
	case ErrorKindTransport:
		code, msg = ErrorCodeTransport, "transport failure"
	case ErrorKindTool:
		code, msg = ErrorCodeToolFailed, "tool returned an error"
	case ErrorKindRateLimited:
		code, msg = ErrorCodeRateLimited, "rate limit exceeded"
	case ErrorKindInvalidArguments:
		code, msg = ErrorCodeValidation, "invalid arguments"
	}
	return &InvocationError{
		MCPError: &MCPError{Code: code, Message: msg, Cause: cause},
		Kind:     kind,
		ServerID: serverID,
		Tool:     tool,
	}
}

// ErrServerNotFound is returned for unknown server ids.
func ErrServerNotFound(id string) *ConfigError {
	err := NewConfigError(ErrorCodeNotFound, id, "id", fmt.Sprintf("server %q not found", id))
	err.WithSuggestions("List registered servers with: toolhub servers list")
	return err
}

// ErrServerExists is returned when creating a server whose id is taken.
func ErrServerExists(id string) *ConfigError {
	err := NewConfigError(ErrorCodeAlreadyExists, id, "id", fmt.Sprintf("server %q already exists", id))
	err.WithSuggestions("Choose a different id, or update the existing server")
	return err
}

// ErrServerDisabled is returned when connecting a disabled server.
func ErrServerDisabled(id string) *ConnectionError {
	err := NewConnectionError(ErrorCodeDisabled, id, fmt.Sprintf("server %q is disabled", id), nil)
	err.WithSuggestions("Enable it with: toolhub servers enable " + id)
	return err
}

// ErrNotConnected is returned for calls on a server without a live session.
func ErrNotConnected(id string) *ConnectionError {
	return NewConnectionError(ErrorCodeNotConnected, id, fmt.Sprintf("server %q is not connected", id), nil)
}

type coded interface {
	ErrorCode() ErrorCode
}

// CodeOf returns the code of the first coded error in err's chain, or
// ErrorCodeInternal.
func CodeOf(err error) ErrorCode {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ErrorCodeInternal
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsConnectionError reports whether err is, or wraps, a ConnectionError.
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsToolNotFound reports whether err is, or wraps, a ToolNotFoundError.
func IsToolNotFound(err error) bool {
	var target *ToolNotFoundError
	return errors.As(err, &target)
}

// KindOf returns the invocation error kind carried by err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	if IsToolNotFound(err) {
		return ErrorKindNotFound
	}
	var inv *InvocationError
	if errors.As(err, &inv) {
		return inv.Kind
	}
	return ErrorKindTransport
}
