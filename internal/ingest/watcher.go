package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/logging"
)

// textExtensions are the file types the watcher ingests.
var textExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Watcher re-ingests files in a directory as they change, keeping the
// corpus in sync with the filesystem without manual ingest calls.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over dir. The directory must exist.
func NewWatcher(dir string, pipeline *Pipeline, logger *logging.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	return &Watcher{
		pipeline: pipeline,
		dir:      dir,
		logger:   logger,
		watcher:  fsw,
	}, nil
}

// SyncExisting ingests every eligible file already present in the
// directory. Called once at startup before Run.
func (w *Watcher) SyncExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading watch directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !eligible(entry.Name()) {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Run processes filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !eligible(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		w.ingestFile(ctx, event.Name)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if err := w.pipeline.Remove(ctx, sourcePathFor(event.Name)); err != nil {
			w.logger.Warn(ctx, "removing deleted source failed",
				zap.String("path", event.Name),
				zap.Error(err),
			)
		}
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Editors often remove-and-replace; the follow-up event wins.
		w.logger.Warn(ctx, "reading changed file failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}

	if _, err := w.pipeline.Ingest(ctx, sourcePathFor(path), string(data)); err != nil {
		w.logger.Warn(ctx, "ingesting changed file failed",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func eligible(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}

// sourcePathFor keys sources by base name so ingests via the API and via
// the watcher agree on identity.
func sourcePathFor(path string) string {
	return filepath.Base(path)
}
