package watch

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Signal names used for logging and metrics.
const (
	SignalCreated = "created"
	SignalChanged = "changed"
	SignalDeleted = "deleted"
	SignalRenamed = "renamed"
)

func (r *Registrar) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				r.rescan()
				continue
			}
			r.logger.Warn("watcher error", "error", err)
		}
	}
}

// handleEvent normalizes one native event into queue signals. A Rename is
// reported for the old name. The Create that directly follows it is the new
// name only when it names the same file; a file that left the watched tree
// followed by an unrelated Create leaves the Create a new file.
func (r *Registrar) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	renamedFrom, renamedID := r.lastRename, r.lastRenameID
	r.lastRename, r.lastRenameID = "", nil

	// A watched directory that vanished or moved loses its native watches;
	// its indexed files are retired when the queue fans out the delete.
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if _, watched := r.refs[path]; watched {
			r.releaseSubtree(path)
			r.forgetUnwatched()
			r.opts.Metrics.SetWatchSubscriptions(len(r.refs))
		}
	}

	parent := filepath.Dir(path)
	covering := r.covering(parent)
	_, tracked := r.roots[path]
	renameTarget := renamedFrom != "" && ev.Has(fsnotify.Create) && sameFile(path, renamedID)
	if renameTarget {
		if rt, ok := r.roots[renamedFrom]; ok && !rt.isDir {
			r.rekey(renamedFrom, path)
			tracked = true
		}
	}
	if len(covering) == 0 && !tracked {
		return
	}
	if len(covering) > 0 && !tracked && r.excluded(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		r.onCreate(path, renameTarget, covering)
	case ev.Has(fsnotify.Write):
		r.signal(path, true, SignalChanged)
	case ev.Has(fsnotify.Remove):
		delete(r.ids, path)
		r.signal(path, true, SignalDeleted)
	case ev.Has(fsnotify.Rename):
		r.lastRename, r.lastRenameID = path, r.ids[path]
		delete(r.ids, path)
		r.signal(path, true, SignalRenamed)
	}
}

func (r *Registrar) onCreate(path string, renameTarget bool, covering []*root) {
	info, err := os.Lstat(path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		if !r.opts.FollowSymlinks {
			return
		}
		info, err = os.Stat(path)
	}
	if err == nil && info.IsDir() {
		// New or moved-in subdirectory: register it the same way as the
		// root. Its files are new paths to the index.
		for _, rt := range covering {
			if err := r.scan(rt, path, false, make(map[string]struct{})); err != nil {
				r.logger.Warn("watching new directory", "dir", path, "error", err)
			}
		}
		r.opts.Metrics.SetWatchSubscriptions(len(r.refs))
		if renameTarget {
			r.signal(path, true, SignalRenamed)
		}
		return
	}
	if err == nil {
		r.ids[path] = info
	}
	if renameTarget {
		r.signal(path, true, SignalRenamed)
		return
	}
	r.signal(path, false, SignalCreated)
}

func (r *Registrar) signal(path string, reported bool, kind string) {
	r.queue.Enqueue(path, reported)
	r.opts.Metrics.ObserveWatchEvent(kind)
	r.logger.Debug("signal", "path", path, "kind", kind, "reported", reported)
}

// rescan rescans every root after the kernel dropped events. Files are
// queued as reported so that anything already indexed is re-read.
func (r *Registrar) rescan() {
	r.mu.Lock()
	for _, rt := range r.roots {
		if rt.isDir {
			if err := r.scan(rt, rt.path, true, make(map[string]struct{})); err != nil {
				r.logger.Warn("rescan after overflow", "root", rt.path, "error", err)
			}
			continue
		}
		r.queue.Enqueue(rt.path, true)
	}
	r.lastRename, r.lastRenameID = "", nil
	r.mu.Unlock()
	r.logger.Warn("event queue overflowed, roots rescanned")
	if r.opts.OnOverflow != nil {
		r.opts.OnOverflow()
	}
}
