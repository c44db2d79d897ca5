package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reports plugin directories whose manifest was created, changed or
// removed. Bursts of filesystem events are coalesced: the callback fires once
// the directories have been quiet for the debounce interval.
type Watcher struct {
	roots    []string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	log      *logrus.Logger
}

// NewWatcher watches every root directory and its existing plugin subdirectories.
func NewWatcher(roots []string, debounce time.Duration, log *logrus.Logger) (*Watcher, error) {
	if log == nil {
		log = logrus.New()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{roots: roots, debounce: debounce, fsw: fsw, log: log}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			log.Warnf("Not watching plugin directory %s: %v", root, err)
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := w.fsw.Add(filepath.Join(root, entry.Name())); err != nil {
				w.log.Warnf("Error watching %s: %v", entry.Name(), err)
			}
		}
	}
	return nil
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, pluginDirs []string)) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			dir, relevant := w.pluginDir(event)
			if !relevant {
				continue
			}
			if event.Op&fsnotify.Create != 0 && dir == event.Name {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						w.log.Warnf("Error watching new plugin directory: %v", err)
					}
				}
			}
			w.log.WithFields(logrus.Fields{
				"path": event.Name,
				"op":   event.Op.String(),
			}).Debug("Plugin directory changed")
			pending[dir] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			dirs := make([]string, 0, len(pending))
			for d := range pending {
				dirs = append(dirs, d)
			}
			sort.Strings(dirs)
			clear(pending)
			onChange(ctx, dirs)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Watcher error: %v", err)
		}
	}
}

// pluginDir maps an event to the plugin directory it affects.
func (w *Watcher) pluginDir(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", false
	}
	if IsManifestFile(event.Name) {
		return filepath.Dir(event.Name), true
	}
	parent := filepath.Dir(event.Name)
	for _, root := range w.roots {
		if filepath.Clean(root) == parent && event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
			return event.Name, true
		}
	}
	return "", false
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
