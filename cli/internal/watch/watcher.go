package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zhaobenny/picost/internal/logger"
	"go.uber.org/zap"
)

// Watcher reports changes to session logs under a root directory
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

// New creates a watcher for root and all of its subdirectories
func New(root string, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &Watcher{watcher: w, debounce: debounce}
	if err := fw.addRecursive(root); err != nil {
		w.Close()
		return nil, err
	}

	return fw, nil
}

// addRecursive adds a directory and its subdirectories to the watcher
func (fw *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fw.watcher.Add(path)
	})
}

func isSessionLog(path string) bool {
	return filepath.Ext(path) == ".jsonl"
}

// Run calls onChange once per burst of writes to session logs, after the
// directory has been quiet for the debounce interval. It returns when ctx is
// canceled or the underlying watcher fails.
func (fw *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	log := logger.FromContext(ctx)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.addRecursive(event.Name); err != nil {
						log.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
					}
					continue
				}
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isSessionLog(event.Name) {
				continue
			}

			pending = event.Name
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			log.Debug("session log changed", zap.String("file", pending))
			onChange(pending)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}

// Close stops the watcher
func (fw *Watcher) Close() error {
	return fw.watcher.Close()
}
