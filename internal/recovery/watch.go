package recovery

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var ErrWatcherClosed = errors.New("watcher closed")

// DirWatcher waits for lost paths to come back, typically when a volume is
// remounted or a directory is restored. It watches the nearest existing
// ancestor of each lost path and fires the registered callback once the path
// itself reappears.
type DirWatcher struct {
	watcher *fsnotify.Watcher
	logger  Logger

	mu      sync.Mutex
	awaited map[string]func(path string)
	closed  bool

	done chan struct{}
}

func NewDirWatcher(logger Logger) (*DirWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &DirWatcher{
		watcher: fw,
		logger:  logger,
		awaited: map[string]func(path string){},
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Await registers interest in a lost path. onReturn fires at most once, from
// the watcher goroutine, when the path exists again.
func (w *DirWatcher) Await(lostPath string, onReturn func(path string)) error {
	cleaned := filepath.Clean(lostPath)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.awaited[cleaned] = onReturn
	w.mu.Unlock()

	anchor := nearestExistingAncestor(cleaned)
	if err := w.watcher.Add(anchor); err != nil {
		w.mu.Lock()
		delete(w.awaited, cleaned)
		w.mu.Unlock()
		return err
	}

	// The path may have reappeared between registration and Add.
	if _, err := os.Stat(cleaned); err == nil {
		w.fire(cleaned)
	}
	return nil
}

// Cancel drops interest in a lost path without firing its callback.
func (w *DirWatcher) Cancel(lostPath string) {
	w.mu.Lock()
	delete(w.awaited, filepath.Clean(lostPath))
	w.mu.Unlock()
}

func (w *DirWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *DirWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.sweep()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Printf("recovery watcher: %v", err)
			}
		}
	}
}

// sweep re-stats every awaited path. Creation events arrive for the anchor's
// direct children, which may be an intermediate directory rather than the
// awaited path itself, so a stat is the only reliable check.
func (w *DirWatcher) sweep() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.awaited))
	for p := range w.awaited {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			w.fire(p)
		} else {
			// Deepen the watch as ancestors come back so we see the
			// next level appear.
			if anchor := nearestExistingAncestor(p); anchor != p {
				_ = w.watcher.Add(anchor)
			}
		}
	}
}

func (w *DirWatcher) fire(path string) {
	w.mu.Lock()
	onReturn := w.awaited[path]
	delete(w.awaited, path)
	w.mu.Unlock()
	if onReturn != nil {
		onReturn(path)
	}
}
