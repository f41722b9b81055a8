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
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitFailed      = 1
	ExitInvalidArgs = 2
	ExitUnreachable = 3
	ExitNotFound    = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidArgsError creates an error for bad flags or arguments.
func NewInvalidArgsError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidArgs, Message: msg, Cause: cause}
}

// NewUnreachableError creates an error for a control surface that did not answer.
func NewUnreachableError(addr string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitUnreachable,
		Message: "cannot reach toolhub at " + addr,
		Cause:   cause,
	}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		return ExitNotFound
	}
	return ExitFailed
}

// PrintError writes err and any suggestions the server returned.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		for _, s := range apiErr.Suggestions {
			fmt.Fprintf(w, "\nSuggestion: %s\n", s)
		}
	}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}
