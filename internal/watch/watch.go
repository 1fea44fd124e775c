// Package watch follows a capture directory and reports frame files once
// they have finished writing.
package watch

import (
	"os"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"stargazer/internal/fsutil"
)

// pendingFile tracks a file that appeared but may still be growing.
type pendingFile struct {
	size  int64
	since time.Time
}

// Watcher monitors one directory for new FITS frames. A frame is reported on
// Frames only after its size has been stable for the settle window, so
// half-written captures never reach the stacker.
type Watcher struct {
	dir    string
	settle time.Duration
	log    *slog.Logger

	fsw    *fsnotify.Watcher
	frames chan string
	done   chan struct{}

	pending map[string]*pendingFile
	emitted map[string]bool
}

// New creates a watcher for dir. settle is how long a file's size must hold
// still before it counts as complete.
func New(dir string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		log:     logger,
		fsw:     fsw,
		frames:  make(chan string, 100),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingFile),
		emitted: make(map[string]bool),
	}, nil
}

// Frames returns settled frame paths. The channel closes when the watcher
// stops.
func (w *Watcher) Frames() <-chan string { return w.frames }

// Seen marks paths as already handled so later write events for them are not
// reported again. Must be called before Start.
func (w *Watcher) Seen(paths ...string) {
	for _, p := range paths {
		w.emitted[p] = true
	}
}

// Start begins monitoring the directory.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(w.dir); err != nil {
		return err
	}
	w.log.Info("watching directory", "dir", w.dir, "settle", w.settle)
	go w.loop()
	return nil
}

// Stop ends monitoring; Frames closes once the loop drains.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.frames)

	tick := w.settle / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsFrameFile(ev.Name) {
				continue
			}
			if w.emitted[ev.Name] {
				continue
			}
			w.note(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// note records or refreshes a pending file.
func (w *Watcher) note(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	p, ok := w.pending[path]
	if !ok {
		w.pending[path] = &pendingFile{size: info.Size(), since: time.Now()}
		return
	}
	if info.Size() != p.size {
		p.size = info.Size()
		p.since = time.Now()
	}
}

// sweep promotes files whose size held still for the settle window.
func (w *Watcher) sweep() {
	now := time.Now()
	for path, p := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != p.size {
			p.size = info.Size()
			p.since = now
			continue
		}
		if now.Sub(p.since) < w.settle {
			continue
		}
		delete(w.pending, path)
		w.emitted[path] = true
		select {
		case w.frames <- path:
		default:
			w.log.Warn("frame buffer full, dropping", "file", path)
		}
	}
}
