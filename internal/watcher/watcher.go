// Package watcher watches one or more directories for file changes and
// triggers a caller-supplied re-index function, debounced per path. The
// core facade never depends on this package — it is pure CLI glue for the
// supplemental `watch` command.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceWindow is how long a burst of writes to the same path is
// collapsed into a single re-index call.
const debounceWindow = 500 * time.Millisecond

// AddFileFunc re-chunks, re-embeds, and inserts a single file's chunks.
// The Watcher serializes its calls: it never runs two at once.
type AddFileFunc func(path string) error

// Watcher drives AddFileFunc off filesystem events under one or more
// watched trees.
type Watcher struct {
	fw          *fsnotify.Watcher
	addFile     AddFileFunc
	addMu       sync.Mutex // held around every addFile call
	isSupported func(path string) bool
	log         zerolog.Logger
}

// New creates a Watcher. isSupported filters which files trigger addFile;
// directory-create events are always followed regardless of it.
func New(addFile AddFileFunc, isSupported func(string) bool, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{fw: fw, addFile: addFile, isSupported: isSupported, log: log}, nil
}

// Watch adds rootDir (and its subdirectories) to the watch list and
// processes events until done is closed. Intended to run in a goroutine,
// one call per root directory.
func (w *Watcher) Watch(rootDir string, done <-chan struct{}) error {
	if err := w.addDirRecursive(rootDir); err != nil {
		return err
	}

	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-done:
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			path := event.Name

			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(path); err == nil && fi.IsDir() {
					_ = w.addDirRecursive(path)
				}
			}

			if !w.isSupported(path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if t, ok := pending[path]; ok {
					t.Stop()
				}
				pending[path] = time.AfterFunc(debounceWindow, func() {
					w.addMu.Lock()
					defer w.addMu.Unlock()
					w.log.Info().Str("path", path).Msg("watch: re-indexing")
					if err := w.addFile(path); err != nil {
						w.log.Error().Err(err).Str("path", path).Msg("watch: add failed")
					}
				})
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watch: fsnotify error")
		}
	}
}

// addDirRecursive adds dir and all non-hidden subdirectories to the watcher.
func (w *Watcher) addDirRecursive(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := w.fw.Add(dir); err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			if err := w.addDirRecursive(filepath.Join(dir, e.Name())); err != nil {
				w.log.Warn().Err(err).Str("dir", dir).Msg("watch: skip subdir")
			}
		}
	}
	return nil
}
