package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a workspace's SOUL.md/IDENTITY.md/USER.md/etc. on
// disk change, so a running agent picks up persona/boundary edits
// without a restart. Grounded on internal/skills.Manager's watcher.
type Watcher struct {
	cfg      LoaderConfig
	debounce time.Duration
	onChange func(*WorkspaceContext)
	logger   *slog.Logger

	mu     sync.Mutex
	w      *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher builds a Watcher for cfg.Root, invoking onChange with the
// freshly reloaded WorkspaceContext after each debounced burst of
// filesystem events. debounce <= 0 defaults to 250ms.
func NewWatcher(cfg LoaderConfig, debounce time.Duration, onChange func(*WorkspaceContext)) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		cfg:      cfg,
		debounce: debounce,
		onChange: onChange,
		logger:   slog.Default().With("component", "workspace"),
	}
}

// Start begins watching cfg.Root for changes. A no-op if already started.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.w != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	root := w.cfg.Root
	if root == "" {
		root = "."
	}
	if err := fw.Add(root); err != nil {
		w.mu.Unlock()
		_ = fw.Close()
		return err
	}
	w.w = fw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(watchCtx)
	return nil
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.w
	w.w = nil
	w.mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fw := w.w
	w.mu.Unlock()
	if fw == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			ctx, err := LoadWorkspace(w.cfg)
			if err != nil {
				w.logger.Warn("workspace reload failed", "error", err)
				return
			}
			if w.onChange != nil {
				w.onChange(ctx)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workspace watch error", "error", err)
		}
	}
}
