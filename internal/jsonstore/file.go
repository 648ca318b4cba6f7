// Package jsonstore persists JSON documents to disk with atomic replacement
// and optional change notification.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// File is a single JSON document on disk. An empty path keeps the document
// in memory only: Load reports nothing stored and Save is a no-op.
type File struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a File at path.
func New(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger}
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Load decodes the document into v. It returns false when nothing has been
// stored yet. A corrupted file is moved aside and treated as absent.
func (f *File) Load(v any) (bool, error) {
	if f.path == "" {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		corruptPath := fmt.Sprintf("%s.corrupt-%s", f.path, time.Now().Format("20060102-150405"))
		if renameErr := os.Rename(f.path, corruptPath); renameErr != nil {
			f.logger.Warn("failed to back up corrupted store", "path", f.path, "error", renameErr)
		} else {
			f.logger.Warn("backed up corrupted store", "path", corruptPath, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// Save encodes v and atomically replaces the file.
func (f *File) Save(v any) error {
	if f.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(f.path), err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Remove deletes the file if it exists.
func (f *File) Remove() error {
	if f.path == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Watch calls onChange, debounced, whenever the file is created, written,
// renamed or removed by anyone. It blocks until ctx is done.
func (f *File) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	if f.path == "" {
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, onChange)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("store watch error", "path", f.path, "error", err)
		}
	}
}
