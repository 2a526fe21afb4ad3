// Package watch observes the test directory and reports changes so
// connected platforms can refresh their file listing without polling.
package watch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Notifier receives a changed-files signal after the debounce window.
type Notifier func()

// Watcher debounces filesystem events on a single directory. Editors
// tend to fire several events per save, so bursts collapse into one
// notification.
type Watcher struct {
	dir      string
	debounce time.Duration
	notify   Notifier
	log      zerolog.Logger
}

// New creates a watcher over dir. A non-positive debounce defaults to
// 500ms.
func New(dir string, debounce time.Duration, notify Notifier, log zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, notify: notify, log: log}
}

// Run watches until ctx is cancelled. The directory is created when
// missing so a fresh project can be watched before its first save.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Debug().Str("dir", w.dir).Msg("watching test directory")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.log.Debug().Str("op", ev.Op.String()).Str("file", ev.Name).Msg("test file event")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.notify()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// relevant filters out noise: only create/write/remove/rename of test
// specs matter to the listing.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := ev.Name
	for _, suffix := range []string{".spec.ts", ".spec.js", ".test.ts", ".test.js"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
