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

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
)

// ApplyFunc receives the servers file content after every change.
type ApplyFunc func(ctx context.Context, servers []mcp.ServerConfig) error

// WatcherConfig configures a servers file watcher.
type WatcherConfig struct {
	// Path is the servers file (required).
	Path string

	// Apply is called with the parsed file (required).
	Apply ApplyFunc

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay collapses bursts of writes (defaults to 200ms).
	DebounceDelay time.Duration
}

// Watcher reloads a servers file when it changes. The parent directory is
// watched so editors that replace the file by rename are seen.
type Watcher struct {
	path      string
	apply     ApplyFunc
	logger    *slog.Logger
	debounce  time.Duration
	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher starts watching cfg.Path.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, errors.New("servers file path is required")
	}
	if cfg.Apply == nil {
		return nil, errors.New("apply func is required")
	}

	abs, err := expandHome(cfg.Path)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.Abs(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", cfg.Path, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:      abs,
		apply:     cfg.Apply,
		logger:    toolhublog.WithComponent(logger, "servers-watcher"),
		debounce:  debounce,
		fsWatcher: fsWatcher,
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	w.logger.Debug("watching servers file", "path", abs)
	return w, nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", toolhublog.Error(err))

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	w.pending = nil
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	servers, err := LoadServersFile(w.path)
	if err != nil {
		// A half-written file is retried on the next write.
		w.logger.Warn("servers file reload skipped", "path", w.path, toolhublog.Error(err))
		return
	}

	w.logger.Info("servers file changed", "path", w.path, "servers", len(servers))
	if err := w.apply(w.ctx, servers); err != nil {
		w.logger.Error("failed to apply servers file", "path", w.path, toolhublog.Error(err))
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	return w.fsWatcher.Close()
}
