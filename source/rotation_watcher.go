package source

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/refractionPOINT/syslog-generator/utils"
)

// rotationWatcher flags when the watched path is re-created, renamed or
// removed. The flag is consumed by the next read cycle.
type rotationWatcher struct {
	w       *fsnotify.Watcher
	path    string
	rotated uint32
	wg      sync.WaitGroup
	log     utils.LogOptions
}

func newRotationWatcher(path string, log utils.LogOptions) (*rotationWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify.NewWatcher(): %v", err)
	}
	// Watch the directory so the watch survives the file being replaced.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watcher.Add(%s): %v", filepath.Dir(path), err)
	}
	rw := &rotationWatcher{
		w:    w,
		path: filepath.Clean(path),
		log:  log,
	}
	rw.wg.Add(1)
	go rw.watch()
	return rw, nil
}

func (rw *rotationWatcher) watch() {
	defer rw.wg.Done()
	for {
		select {
		case event, ok := <-rw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != rw.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				atomic.StoreUint32(&rw.rotated, 1)
				rw.log.Debug(fmt.Sprintf("file rotation detected: %s", event))
			}
		case err, ok := <-rw.w.Errors:
			if !ok {
				return
			}
			rw.log.Warn(fmt.Sprintf("file watcher error: %v", err))
		}
	}
}

func (rw *rotationWatcher) takeRotated() bool {
	return atomic.SwapUint32(&rw.rotated, 0) == 1
}

func (rw *rotationWatcher) close() error {
	err := rw.w.Close()
	rw.wg.Wait()
	return err
}
