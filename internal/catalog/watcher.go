package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harrison/ultrasession/internal/syncpulse"
)

// DefaultDebounceDelay coalesces the burst of events an atomic sidecar write produces.
const DefaultDebounceDelay = 200 * time.Millisecond

// IndexEvent reports a run indexed by the Watcher.
type IndexEvent struct {
	Dir       string
	Timestamp string
	Status    string
	Err       error
}

// Watcher indexes runs as their sync sidecars appear, i.e. as soon as a
// session finishes post-processing them.
type Watcher struct {
	watcher *fsnotify.Watcher
	indexer *Indexer
	events  chan IndexEvent
	errors  chan error
	done    chan struct{}

	mu            sync.Mutex
	debounceDelay time.Duration
	pending       map[string]*time.Timer
	closed        bool
	wg            sync.WaitGroup
}

// NewWatcher watches the indexer's experiment directory recursively.
func NewWatcher(indexer *Indexer) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:       fsw,
		indexer:       indexer,
		events:        make(chan IndexEvent, 100),
		errors:        make(chan error, 10),
		done:          make(chan struct{}),
		debounceDelay: DefaultDebounceDelay,
		pending:       make(map[string]*time.Timer),
	}
	if err := w.addRecursive(indexer.ExpDir()); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.processEvents()
	return w, nil
}

// SetDebounceDelay changes the debounce delay. Call it before events arrive.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// addRecursive watches dir and every non-hidden directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil && !os.IsPermission(err) {
			return err
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addRecursive(path); err != nil {
				w.sendError(err)
			}
			return
		}
	}

	if !strings.HasSuffix(path, syncpulse.SidecarSuffix) {
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
		w.debounce(filepath.Dir(path))
	}
}

// debounce indexes runDir once its sidecar has been quiet for the delay.
func (w *Watcher) debounce(runDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if prev, ok := w.pending[runDir]; ok && prev.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.debounceDelay, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[runDir] == timer {
			delete(w.pending, runDir)
		}
		w.mu.Unlock()
		w.indexRun(runDir)
	})
	w.pending[runDir] = timer
}

func (w *Watcher) indexRun(runDir string) {
	ev := IndexEvent{Dir: runDir, Timestamp: filepath.Base(runDir)}
	ev.Status, _, ev.Err = w.indexer.IndexDir(context.Background(), runDir)

	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// Events delivers one IndexEvent per indexed run.
func (w *Watcher) Events() <-chan IndexEvent {
	return w.events
}

// Errors delivers watcher errors; errors are dropped when nobody reads them.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops watching. Pending debounced runs are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for dir, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, dir)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
