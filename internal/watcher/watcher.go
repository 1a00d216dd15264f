// Package watcher discovers coding-assistant session files on the local
// machine and feeds changed conversations into the extraction pipeline.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Event reports a session file whose content settled after a change.
type Event struct {
	Path    string
	ModTime time.Time
}

// Watcher watches conversation directories recursively for *.jsonl changes.
// Rapid write bursts to the same file are coalesced with a per-file
// debounce timer; assistants append to session files on every turn.
type Watcher struct {
	paths    []string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher over the given directories. When paths is empty the
// default Claude Code projects directory is used.
func New(paths []string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if len(paths) == 0 {
		dir, err := DefaultSessionDir()
		if err != nil {
			return nil, err
		}
		paths = []string{dir}
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	return &Watcher{
		paths:    paths,
		debounce: debounce,
		watcher:  fsw,
		events:   make(chan Event, 64),
		stop:     make(chan struct{}),
		logger:   logger.Named("watcher"),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// DefaultSessionDir returns ~/.claude/projects.
func DefaultSessionDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// Start registers the watched directories and begins emitting events. The
// watch is recursive: existing subdirectories are added up front and newly
// created ones as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.paths {
		if err := w.addRecursive(root); err != nil {
			return err
		}
		w.logger.Info("watching conversation directory", zap.String("path", root))
	}
	go w.processEvents(ctx)
	return nil
}

// Events returns the channel of debounced session file changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return fmt.Errorf("watch path does not exist: %s", root)
			}
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// New directories join the recursive watch.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}

	path := event.Name
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		info, err := os.Stat(path)
		if err != nil {
			return
		}
		select {
		case w.events <- Event{Path: path, ModTime: info.ModTime()}:
		case <-w.stop:
		}
	})
}
