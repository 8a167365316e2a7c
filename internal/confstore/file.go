package confstore

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatcher serves configuration entries from plain files in a single
// directory, for single-node and development deployments where no
// ZooKeeper ensemble is available. An entry path like
// "/statshive/profiling/nodes" maps to "<dir>/nodes.json".
type FileWatcher struct {
	dir    string
	fw     *fsnotify.Watcher
	logger zerolog.Logger

	mu       sync.Mutex
	subs     map[string][]WatchFunc // keyed by file name
	versions map[string]int32

	done     chan struct{}
	wg       sync.WaitGroup
	closeOne sync.Once
}

// NewFileWatcher watches the given directory for config entry files.
func NewFileWatcher(dir string, logger zerolog.Logger) (*FileWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	w := &FileWatcher{
		dir:      dir,
		fw:       fw,
		logger:   logger.With().Str("component", "file_confstore").Logger(),
		subs:     make(map[string][]WatchFunc),
		versions: make(map[string]int32),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.dispatch()

	return w, nil
}

// Watch registers fn for the file backing the given entry path and
// delivers the current file state immediately.
func (w *FileWatcher) Watch(entry string, fn WatchFunc) error {
	select {
	case <-w.done:
		return errors.New("watcher is closed")
	default:
	}

	name := entryFileName(entry)

	w.mu.Lock()
	w.subs[name] = append(w.subs[name], fn)
	w.mu.Unlock()

	data, stat := w.readEntry(name)
	fn(data, stat)
	return nil
}

// Close stops the dispatch goroutine and the underlying fsnotify watcher.
func (w *FileWatcher) Close() error {
	var err error
	w.closeOne.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}

// entryFileName maps a config entry path to a file name in the watched
// directory. Only the last path element is significant.
func entryFileName(entry string) string {
	return path.Base(entry) + ".json"
}

func (w *FileWatcher) dispatch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.notify(filepath.Base(ev.Name))
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config dir watch error")
		}
	}
}

// notify re-reads the changed file and delivers it to its subscribers.
func (w *FileWatcher) notify(name string) {
	w.mu.Lock()
	fns := w.subs[name]
	w.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	data, stat := w.readEntry(name)
	for _, fn := range fns {
		fn(data, stat)
	}
}

// readEntry reads the current content of an entry file. A missing file is
// reported as an absent entry (nil data), not an error.
func (w *FileWatcher) readEntry(name string) ([]byte, Stat) {
	full := filepath.Join(w.dir, name)

	info, err := os.Stat(full)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn().Err(err).Str("file", full).Msg("Failed to stat config entry")
		}
		return nil, Stat{}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		w.logger.Warn().Err(err).Str("file", full).Msg("Failed to read config entry")
		return nil, Stat{}
	}

	w.mu.Lock()
	w.versions[name]++
	version := w.versions[name]
	w.mu.Unlock()

	return data, Stat{Version: version, ModifiedAt: info.ModTime()}
}

var _ Watcher = (*FileWatcher)(nil)
var _ Watcher = (*ZooKeeperWatcher)(nil)
