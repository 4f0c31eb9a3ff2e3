package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Root       string        // directory to watch
	SkipHidden bool          // ignore dot-files and dot-directories
	Recursive  bool          // also watch subdirectories, including ones created later
	Debounce   time.Duration // coalesce rapid create/write bursts into one batch
}

// Watch emits sorted batches of new or rewritten document paths under cfg.Root
// until ctx ends. Both channels are closed when the watcher stops.
func Watch(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan []string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if info, err := os.Stat(cfg.Root); err != nil || !info.IsDir() {
		logger.Error("watcher start failed", "root", cfg.Root, "error", err)
		return nil, nil, ErrInputDirMissing
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}
	addTree := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() {
				return nil
			}
			if path != cfg.Root && (!cfg.Recursive || (cfg.SkipHidden && IsHidden(path))) {
				return filepath.SkipDir
			}
			return w.Add(path)
		})
	}
	if err := addTree(cfg.Root); err != nil {
		logger.Error("failed to add root directory", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	batches := make(chan []string)
	errs := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errs)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		pending := map[string]struct{}{}
		timer := time.NewTimer(cfg.Debounce)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if cfg.SkipHidden && IsHidden(e.Name) {
					continue
				}
				if e.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(e.Name); err == nil && info.IsDir() {
						if !cfg.Recursive {
							continue
						}
						if err := addTree(e.Name); err != nil {
							logger.Warn("failed to watch new directory", "path", e.Name, "error", err)
						}
						continue
					}
				}
				if !AllowedExt(filepath.Ext(e.Name)) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				pending[e.Name] = struct{}{}
				timer.Reset(cfg.Debounce)
			case <-timer.C:
				batch := make([]string, 0, len(pending))
				for p := range pending {
					// a renamed-away file also reports Rename
					if _, err := os.Stat(p); err == nil {
						batch = append(batch, p)
					}
				}
				clear(pending)
				if len(batch) == 0 {
					continue
				}
				sort.Strings(batch)
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()

	return batches, errs, nil
}
