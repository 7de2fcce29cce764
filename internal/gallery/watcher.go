package gallery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reports changes to the reference directory. A sync usually touches
// many files at once, so changes are batched until the directory is quiet.
type Watcher struct {
	dir      string
	log      logrus.FieldLogger
	watcher  *fsnotify.Watcher
	quiet    time.Duration
	onChange func(paths []string)

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching dir and every identity folder in it. onChange runs on
// the watcher goroutine with the sorted set of changed paths.
func Watch(ctx context.Context, dir string, quiet time.Duration, log logrus.FieldLogger, onChange func([]string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		log:      log.WithField("dir", dir),
		watcher:  fw,
		quiet:    quiet,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && !hidden(e.Name()) {
			if err := fw.Add(filepath.Join(dir, e.Name())); err != nil {
				w.log.WithError(err).Warnf("failed to watch %s", e.Name())
			}
		}
	}

	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name := filepath.Base(ev.Name)
	if hidden(name) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if filepath.Dir(ev.Name) == filepath.Clean(w.dir) {
				if err := w.watcher.Add(ev.Name); err != nil {
					w.log.WithError(err).Warnf("failed to watch new identity %s", name)
				}
			}
			return true
		}
	}
	// removed folders can no longer be stat'ed, so accept anything without an extension
	return IsImage(name) || filepath.Ext(name) == ""
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) || !w.relevant(ev) {
				continue
			}
			w.log.WithFields(logrus.Fields{"file": ev.Name, "op": ev.Op.String()}).Debug("reference file changed")
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.quiet)
			} else {
				timer.Reset(w.quiet)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			if w.onChange != nil {
				w.onChange(paths)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("reference watcher error")
		}
	}
}

// Close stops watching and waits for the loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}
