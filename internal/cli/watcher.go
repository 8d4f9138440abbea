package cli

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// ConfigWatcher calls onChange once a burst of writes to any watched file
// settles. It watches parent directories so editors that replace files on
// save are still seen.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	files    map[string]bool
	onChange func(path string)

	mu      sync.Mutex
	pending *time.Timer
	last    string

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewConfigWatcher watches files. Relative paths are resolved against the
// working directory.
func NewConfigWatcher(files []string, debounce time.Duration, onChange func(path string)) (*ConfigWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = watchDebounce
	}

	w := &ConfigWatcher{
		watcher:  fsWatcher,
		debounce: debounce,
		files:    make(map[string]bool),
		onChange: onChange,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsWatcher.Add(dir); err != nil {
			_ = fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start begins watching until Stop or ctx is done.
func (w *ConfigWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
}

// Stop stops the watcher and drops any pending notification.
func (w *ConfigWatcher) Stop() error {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *ConfigWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil || !w.files[path] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = path
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.fire)
}

func (w *ConfigWatcher) fire() {
	w.mu.Lock()
	path := w.last
	w.pending = nil
	w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}
	log.Debug().Str("path", path).Msg("Config file changed")
	w.onChange(path)
}
