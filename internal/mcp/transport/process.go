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

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	toolhublog "github.com/tombee/toolhub/internal/log"
)

const (
	// DefaultStartupDelay is how long a freshly spawned server is given
	// before the first handshake request is written.
	DefaultStartupDelay = 500 * time.Millisecond

	// DefaultShutdownGrace is how long Close waits before killing the process.
	DefaultShutdownGrace = 5 * time.Second

	// outputDrain bounds how long output is read after the process exits.
	outputDrain = time.Second

	maxLineSize = 10 * 1024 * 1024
)

// ProcessOptions configures a process transport.
type ProcessOptions struct {
	// Command is the executable to spawn.
	Command string

	// Args are passed to the command.
	Args []string

	// Env entries (KEY=VALUE) are appended to the parent environment.
	Env []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// StartupDelay defaults to DefaultStartupDelay. Negative disables it.
	StartupDelay time.Duration

	// ShutdownGrace defaults to DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// Stderr receives each line the server writes to stderr (optional).
	Stderr func(line string)

	// OnNotification receives server notifications (optional).
	OnNotification NotificationHandler

	// ClientInfo is sent in the handshake. Defaults to DefaultClientInfo.
	ClientInfo mcp.Implementation

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Process is a tool server running as a child process, spoken to with
// newline-delimited JSON-RPC over its stdin and stdout.
type Process struct {
	opts   ProcessOptions
	logger *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	pending *pendingTable

	// exited is closed once the process has been waited on.
	exited chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	err     error
	closing bool

	closeOnce sync.Once
}

var _ Transport = (*Process)(nil)

// NewProcess creates a process transport. Nothing is spawned until Start.
func NewProcess(opts ProcessOptions) *Process {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StartupDelay == 0 {
		opts.StartupDelay = DefaultStartupDelay
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Process{
		opts:    opts,
		logger:  logger,
		pending: newPendingTable(),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start spawns the process, waits out the startup delay, and performs the
// initialize handshake. On failure the process is torn down before returning.
func (p *Process) Start(ctx context.Context) (*mcp.InitializeResult, error) {
	if p.opts.Command == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	cmd.Env = append(os.Environ(), p.opts.Env...)
	cmd.Dir = p.opts.Dir
	// The server and anything it spawns share one process group so that
	// signals reach wrappers' children too (npx, uvx, sh -c).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Output pipes are created here rather than with StdoutPipe so that
	// cmd.Wait returns when the child exits even if a grandchild still
	// holds the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if err != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readLoop(stdoutR)
	}()
	go func() {
		defer readers.Done()
		p.drainStderr(stderrR)
	}()
	go p.wait(&readers, stdoutR, stderrR)

	p.logger.Debug("spawned tool server process", "command", p.opts.Command, "pid", cmd.Process.Pid)

	if p.opts.StartupDelay > 0 {
		timer := time.NewTimer(p.opts.StartupDelay)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
			return nil, fmt.Errorf("process exited during startup: %w", p.Err())
		case <-ctx.Done():
			timer.Stop()
			p.abort()
			return nil, ctx.Err()
		}
	}

	var result mcp.InitializeResult
	if err := p.call(ctx, string(mcp.MethodInitialize), initializeParams(p.opts.ClientInfo), &result); err != nil {
		p.abort()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := p.notify("notifications/initialized", nil); err != nil {
		p.abort()
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	return &result, nil
}

// ListTools follows pagination cursors until the server stops returning one.
func (p *Process) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		var page listToolsResult
		if err := p.call(ctx, string(mcp.MethodToolsList), cursorParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// ListResources follows pagination cursors until the server stops returning one.
func (p *Process) ListResources(ctx context.Context) ([]Resource, error) {
	var resources []Resource
	cursor := ""
	for {
		var page listResourcesResult
		if err := p.call(ctx, string(mcp.MethodResourcesList), cursorParams{Cursor: cursor}, &page); err != nil {
			return nil, err
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

func (p *Process) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	var result ToolResult
	if err := p.call(ctx, string(mcp.MethodToolsCall), callToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *Process) Ping(ctx context.Context) error {
	return p.call(ctx, string(mcp.MethodPing), nil, nil)
}

// Close closes stdin and sends SIGTERM to the process group, then kills the
// group if the server has not exited within the shutdown grace period or
// ctx ends first. Close returns once the process has been reaped.
func (p *Process) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()

		if p.cmd == nil || p.cmd.Process == nil {
			p.finish(ErrClosed)
			return
		}

		_ = p.stdin.Close()
		p.signal(syscall.SIGTERM)

		timer := time.NewTimer(p.opts.ShutdownGrace)
		defer timer.Stop()

		select {
		case <-p.exited:
			return
		case <-timer.C:
		case <-ctx.Done():
		}

		p.logger.Warn("tool server did not exit within grace period, killing",
			"pid", p.cmd.Process.Pid,
			"grace", p.opts.ShutdownGrace,
		)
		p.signal(syscall.SIGKILL)
		<-p.exited
	})
	return nil
}

// abort tears down a session whose handshake failed. A server that never
// answered gets no grace period.
func (p *Process) abort() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Close(ctx)
}

// signal delivers sig to the server's process group, falling back to the
// process alone if the group is gone.
func (p *Process) signal(sig syscall.Signal) {
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = p.cmd.Process.Signal(sig)
	}
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Pending reports the number of requests awaiting a response.
func (p *Process) Pending() int {
	return p.pending.len()
}

// PID returns the child's process id, or 0 before Start.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) call(ctx context.Context, method string, params any, out any) error {
	select {
	case <-p.done:
		return fmt.Errorf("%w: %v", ErrClosed, p.Err())
	default:
	}

	id, ch := p.pending.register()
	defer p.pending.cancel(id)

	if err := p.write(request{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	case <-p.done:
		return fmt.Errorf("%w: %v", ErrClosed, p.Err())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) notify(method string, params any) error {
	return p.write(request{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (p *Process) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	toolhublog.Trace(p.logger, "jsonrpc send", slog.String("frame", string(data)))

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write to stdin: %v", ErrClosed, err)
	}
	return nil
}

// readLoop owns stdout. Responses are routed through the pending table;
// frames nobody is waiting for are logged and dropped.
func (p *Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		toolhublog.Trace(p.logger, "jsonrpc recv", slog.String("frame", string(line)))

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			p.logger.Debug("ignoring non-json output from tool server", "line", truncate(string(line), 200))
			continue
		}

		switch {
		case msg.isResponse():
			id, ok := msg.responseID()
			if !ok || !p.pending.resolve(id, &msg) {
				p.logger.Warn("discarding response with no matching request", "id", string(msg.ID))
			}
		case msg.Method != "" && len(msg.ID) > 0:
			p.answer(&msg)
		case msg.Method != "":
			if p.opts.OnNotification != nil {
				p.opts.OnNotification(msg.Method, msg.Params)
			}
		default:
			p.logger.Debug("ignoring malformed frame from tool server")
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Error("tool server stdout read failed", "error", err)
	}
}

// answer replies to server-initiated requests. Only ping is supported.
func (p *Process) answer(msg *message) {
	r := reply{JSONRPC: jsonrpcVersion, ID: msg.ID}
	if msg.Method == string(mcp.MethodPing) {
		r.Result = struct{}{}
	} else {
		r.Error = &RPCError{Code: mcp.METHOD_NOT_FOUND, Message: "method not supported: " + msg.Method}
	}
	if err := p.write(r); err != nil {
		p.logger.Debug("failed to answer server request", "method", msg.Method, "error", err)
	}
}

func (p *Process) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for scanner.Scan() {
		if p.opts.Stderr != nil {
			p.opts.Stderr(scanner.Text())
		} else {
			p.logger.Debug("tool server stderr", "line", scanner.Text())
		}
	}
}

// wait reaps the process, then gives the readers outputDrain to consume
// what is left in the pipes. Processes left in the group are killed so a
// session never outlives its server.
func (p *Process) wait(readers *sync.WaitGroup, outputs ...io.Closer) {
	err := p.cmd.Wait()
	_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	timer := time.NewTimer(outputDrain)
	select {
	case <-drained:
		timer.Stop()
	case <-timer.C:
		for _, c := range outputs {
			_ = c.Close()
		}
		<-drained
	}
	for _, c := range outputs {
		_ = c.Close()
	}
	close(p.exited)

	p.mu.Lock()
	closing := p.closing
	p.mu.Unlock()

	switch {
	case closing:
		p.finish(ErrClosed)
	case err != nil:
		p.finish(fmt.Errorf("process exited: %w", err))
	default:
		p.finish(errors.New("process exited"))
	}
}

func (p *Process) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	p.err = err
	p.pending.clear()
	close(p.done)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
