package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string
	Recursive   bool
	InitialScan bool          // emit the files already present as the first batch
	Debounce    time.Duration // a burst of events closes after this much quiet
	Logger      *slog.Logger
}

// StartWatcher watches the roots and emits each debounced burst of new or
// rewritten certificate files as one sorted batch of paths. Both channels
// close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan []string, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan []string, 16)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && (!cfg.Recursive || IsHidden(path)) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && !IsHidden(path) && AllowedExt(filepath.Ext(path)) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}
	if len(initial) > 0 {
		slices.Sort(initial)
		evCh <- initial
	}
	logger.Info("watcher started", "roots", cfg.Roots, "initial", len(initial))

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("watcher close failed", "error", err)
			}
		}()

		var (
			timer   *time.Timer
			timerC  <-chan time.Time
			pending = map[string]struct{}{}
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		flush := func() {
			if len(pending) == 0 {
				return
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			clear(pending)
			slices.Sort(batch)
			select {
			case evCh <- batch:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return

			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if cfg.Recursive && e.Op.Has(fsnotify.Create) && !IsHidden(e.Name) {
					// directories only; plain files fail to add and are fine to ignore
					_ = w.Add(e.Name)
				}
				if IsHidden(e.Name) || !AllowedExt(filepath.Ext(e.Name)) {
					continue
				}
				if !e.Op.Has(fsnotify.Create) && !e.Op.Has(fsnotify.Write) {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				timerC = timer.C

			case <-timerC:
				timerC = nil
				flush()

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
