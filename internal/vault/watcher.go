package vault

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"snapvault/internal/metrics"
)

// watcher flags out-of-band changes to the snapshots directory so the
// next vault operation reconciles the manifest. The vault's own writes
// also trigger events; reconciling after them is a cheap no-op, so no
// self-filtering is attempted.
type watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

func newWatcher(v *Vault) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(v.snapsDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &watcher{fsw: fsw, done: make(chan struct{})}
	go w.run(v)
	return w, nil
}

func (w *watcher) run(v *Vault) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, snapSuffix) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if v.dirty.CompareAndSwap(false, true) {
				v.log.Debug("external change detected", zap.String("file", event.Name))
				v.emit(metrics.CategoryVault, "vault.external_change", event.Name, nil)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			v.log.Warn("vault watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) stop() {
	_ = w.fsw.Close()
	<-w.done
}
