package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ky13/synm/internal/logging"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher hot-reloads the policy store when files under the source
// directory change. A reload that fails to parse keeps the previous
// snapshot in place.
type Watcher struct {
	store   *Store
	source  *FileSource
	logger  *logging.Logger
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for the store's file source.
func NewWatcher(store *Store, source *FileSource, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating policy watcher: %w", err)
	}

	return &Watcher{
		store:   store,
		source:  source,
		logger:  logger,
		watcher: fsw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the policy directory in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.source.Dir()); err != nil {
		return fmt.Errorf("watching policy dir %s: %w", w.source.Dir(), err)
	}

	go w.run(ctx)
	return nil
}

// Stop shuts down the watcher and waits for the goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire bursts of events per save; coalesce them.
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(reloadDebounce)
			}
		case <-debounceC:
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	snap, err := w.source.LoadSnapshot(ctx)
	if err != nil {
		w.logger.Error(ctx, "policy reload failed, keeping previous snapshot", zap.Error(err))
		return
	}

	w.store.Swap(snap)
	w.logger.Info(ctx, "policy snapshot reloaded",
		zap.Int("profiles", len(snap.Profiles)),
		zap.Int("scopes", len(snap.Scopes)),
	)
}
