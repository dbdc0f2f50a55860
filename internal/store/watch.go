package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals changes of the progress file. Bursts of writes are
// coalesced into one notification.
type Watcher struct {
	w       *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Watch observes the directory of the progress file, so the file may be
// created, truncated or removed while watched.
func (f ProgressFile) Watch() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("progress watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(f.path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("progress watch: %w", err)
	}

	w := &Watcher{
		w:       fw,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	base := filepath.Base(f.path)
	w.wg.Go(func() { w.loop(base) })
	return w, nil
}

func (w *Watcher) loop(base string) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			slog.Warn("progress watch", "error", err)
		}
	}
}

// Changes delivers a value after the progress file changed.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.w.Close()
		w.wg.Wait()
	})
	return err
}
