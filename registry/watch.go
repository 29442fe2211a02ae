package registry

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a FileStore snapshot whenever its file changes and swaps
// it into a Holder. Snapshots whose digest matches the current one are
// ignored.
type Watcher struct {
	store    *FileStore
	holder   *Holder
	logger   *zap.Logger
	onReload func(*Snapshot)
}

// NewWatcher creates a watcher. onReload, if non-nil, is called after every
// swap with the installed snapshot.
func NewWatcher(store *FileStore, holder *Holder, logger *zap.Logger, onReload func(*Snapshot)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{store: store, holder: holder, logger: logger, onReload: onReload}
}

// Run watches until ctx is done. The directory is watched rather than the
// file because FileStore replaces the file by renaming.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	path, err := filepath.Abs(w.store.Path())
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return err
	}
	w.logger.Info("watching registry snapshot", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("snapshot watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	snap, err := w.store.Load(ctx)
	if err != nil {
		// A write may still be in progress; the next event retries.
		w.logger.Debug("snapshot reload skipped", zap.Error(err))
		return
	}
	if cur := w.holder.Current(); cur != nil && cur.Digest() == snap.Digest() {
		return
	}
	w.holder.Swap(snap)
	w.logger.Info("reloaded registry snapshot",
		zap.Uint64("version", snap.Version()),
		zap.Int("tools", snap.Len()),
	)
	if w.onReload != nil {
		w.onReload(snap)
	}
}
