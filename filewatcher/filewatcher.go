// Copyright 2023 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package filewatcher reloads policy files when they change on disk.
package filewatcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openstack-archive/congress-sub001/logging"
)

// OnReload is called with the content of every watched file after one of
// them changed. A file that no longer exists has empty content.
type OnReload func(ctx context.Context, elapsed time.Duration, files map[string]string, err error)

type FileWatcher struct {
	paths    []string
	onReload OnReload
	logger   logging.Logger
}

func NewFileWatcher(paths []string, onReload OnReload, logger logging.Logger) *FileWatcher {
	cleaned := make([]string, len(paths))
	for i := range paths {
		cleaned[i] = filepath.Clean(paths[i])
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &FileWatcher{
		paths:    cleaned,
		onReload: onReload,
		logger:   logger,
	}
}

// Start watches the directories of the files until ctx is done.
func (w *FileWatcher) Start(ctx context.Context) error {
	watcher, err := w.getWatcher()
	if err != nil {
		return err
	}
	go w.readWatcher(ctx, watcher)
	return nil
}

func (w *FileWatcher) getWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, path := range getWatchPaths(w.paths) {
		w.logger.WithFields(map[string]interface{}{"path": path}).Debug("watching path")
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	return watcher, nil
}

func (w *FileWatcher) readWatcher(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	watched := make(map[string]struct{}, len(w.paths))
	for _, path := range w.paths {
		watched[path] = struct{}{}
	}

	mask := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher failed: %v.", err)
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, ok := watched[filepath.Clean(evt.Name)]; !ok || (evt.Op&mask) == 0 {
				continue
			}
			w.logger.WithFields(map[string]interface{}{
				"event": evt.String(),
			}).Debug("Registered file event.")
			w.processWatcherUpdate(ctx)
		}
	}
}

func (w *FileWatcher) processWatcherUpdate(ctx context.Context) {
	t0 := time.Now()
	files, err := ReadFiles(w.paths)
	w.onReload(ctx, time.Since(t0), files, err)
}

// ReadFiles returns the content of each path. Missing files have empty
// content.
func ReadFiles(paths []string) (map[string]string, error) {
	files := make(map[string]string, len(paths))
	for _, path := range paths {
		bs, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		files[filepath.Clean(path)] = string(bs)
	}
	return files, nil
}

func getWatchPaths(paths []string) []string {
	set := map[string]struct{}{}
	for _, path := range paths {
		set[filepath.Dir(path)] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for dir := range set {
		result = append(result, dir)
	}
	sort.Strings(result)
	return result
}
