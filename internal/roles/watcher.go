package roles

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a Catalog when role files in its directory change. Each
// reload attempt is reported on Reloads; a failed reload keeps the previous
// profiles.
type Watcher struct {
	Reloads <-chan error

	catalog *Catalog
	logger  *slog.Logger
	reloads chan error
	done    chan struct{}
	watcher *fsnotify.Watcher
}

func NewWatcher(c *Catalog, logger *slog.Logger) (*Watcher, error) {
	if c == nil || c.dir == "" {
		return nil, errors.New("roles dir is required to watch")
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan error, 8)
	return &Watcher{
		Reloads: ch,
		catalog: c,
		logger:  logger,
		reloads: ch,
		done:    make(chan struct{}),
		watcher: fw,
	}, nil
}

func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.catalog.Dir()); err != nil {
		return err
	}
	go w.loop()
	return nil
}

func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
	close(w.reloads)
}

func (w *Watcher) loop() {
	defer close(w.done)

	var pending time.Time
	ticker := time.NewTicker(reloadDebounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isRoleFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < reloadDebounce {
				continue
			}
			pending = time.Time{}
			err := w.catalog.Reload()
			if err != nil {
				w.logger.Error("reload roles", "dir", w.catalog.Dir(), "error", err)
			} else {
				w.logger.Info("roles reloaded", "dir", w.catalog.Dir())
			}
			select {
			case w.reloads <- err:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("roles watcher error", "error", err)
		}
	}
}
