// Package watch turns native filesystem notifications into queue signals.
// It owns the lifecycle of every native watch and never touches the index.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	apperrors "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/metrics"
)

// eventBuffer sizes the fsnotify event channel.
const eventBuffer = 4096

// Enqueuer receives normalized (path, reported) signals.
type Enqueuer interface {
	Enqueue(path string, reported bool)
}

// Options configures a Registrar.
type Options struct {
	// Exclude holds doublestar patterns matched against slash-separated
	// absolute paths.
	Exclude        []string
	FollowSymlinks bool
	Metrics        *metrics.Metrics
	// OnOverflow runs after the kernel dropped events and every root has
	// been rescanned.
	OnOverflow func()
}

// root is one explicitly registered file or directory.
type root struct {
	path  string
	isDir bool
	// dirs are the native watches this root holds a reference on.
	dirs map[string]struct{}
}

// Registrar maps registered roots to native watches.
type Registrar struct {
	watcher *fsnotify.Watcher
	queue   Enqueuer
	opts    Options
	logger  *slog.Logger

	mu    sync.Mutex
	roots map[string]*root
	refs  map[string]int
	// ids holds the identity of every file seen under a watch, so that a
	// Create following a Rename is paired only when it is the same file.
	ids map[string]os.FileInfo
	// lastRename is the path of the Rename event just seen and lastRenameID
	// the identity it had.
	lastRename   string
	lastRenameID os.FileInfo

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Registrar. Call Start to begin delivering events.
func New(queue Enqueuer, opts Options) (*Registrar, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 0, "exclude pattern %q", pattern)
		}
	}
	w, err := fsnotify.NewBufferedWatcher(eventBuffer)
	if err != nil {
		return nil, fmt.Errorf("%w: creating watcher: %v", apperrors.ErrWatchInstall, err)
	}
	return &Registrar{
		watcher: w,
		queue:   queue,
		opts:    opts,
		logger:  slog.Default().With("component", "watch-registrar"),
		roots:   make(map[string]*root),
		refs:    make(map[string]int),
		ids:     make(map[string]os.FileInfo),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the event loop.
func (r *Registrar) Start() {
	r.wg.Add(1)
	go r.loop()
}

// Close retires every watch and waits for the event loop to exit.
func (r *Registrar) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.watcher.Close()
		r.wg.Wait()

		r.mu.Lock()
		n := len(r.roots)
		r.roots = make(map[string]*root)
		r.refs = make(map[string]int)
		r.ids = make(map[string]os.FileInfo)
		r.mu.Unlock()
		r.opts.Metrics.SetWatchSubscriptions(0)
		r.logger.Info("registrar closed", "roots", n)
	})
	return err
}

// Add registers path. A directory is enumerated recursively and every file
// in it is queued as newly discovered; a single file is queued and watched
// through its parent directory. Registering an existing root is a no-op.
func (r *Registrar) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, 0, "path %q: %v", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", apperrors.ErrRootNotFound, abs)
		}
		return fmt.Errorf("%w: stat %s: %v", apperrors.ErrWatchInstall, abs, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roots[abs]; ok {
		return nil
	}

	rt := &root{path: abs, isDir: info.IsDir(), dirs: make(map[string]struct{})}
	if rt.isDir {
		if err := r.scan(rt, abs, false, make(map[string]struct{})); err != nil {
			r.releaseAll(rt)
			return err
		}
	} else {
		if err := r.acquire(rt, filepath.Dir(abs)); err != nil {
			return err
		}
		r.ids[abs] = info
		r.queue.Enqueue(abs, false)
	}
	r.roots[abs] = rt
	r.opts.Metrics.SetWatchSubscriptions(len(r.refs))
	r.logger.Info("root registered",
		"path", abs,
		"dir", rt.isDir,
		"native_watches", len(rt.dirs),
	)
	return nil
}

// Remove retires the watches of a registered root. It reports whether path
// was registered. The index is not touched.
func (r *Registrar) Remove(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(abs)
}

// RetireFile drops the subscription of an explicitly tracked single file
// once its deletion has been reconciled. Directories and untracked paths
// are ignored.
func (r *Registrar) RetireFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.roots[path]; ok && !rt.isDir {
		r.removeLocked(path)
	}
}

func (r *Registrar) removeLocked(abs string) bool {
	rt, ok := r.roots[abs]
	if !ok {
		return false
	}
	r.releaseAll(rt)
	delete(r.roots, abs)
	r.forgetUnwatched()
	r.opts.Metrics.SetWatchSubscriptions(len(r.refs))
	r.logger.Info("root removed", "path", abs)
	return true
}

// Roots returns the registered roots, sorted.
func (r *Registrar) Roots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.roots))
	for p := range r.roots {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Subscriptions returns the number of native watches held.
func (r *Registrar) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refs)
}

func (r *Registrar) excluded(path string) bool {
	slashed := filepath.ToSlash(path)
	relative := strings.TrimPrefix(slashed, "/")
	for _, pattern := range r.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, relative); ok {
			return true
		}
	}
	return false
}

// scan installs a watch on dir before enumerating it, so a file created in
// between is reported by the watch. Files are enqueued with reported.
// Subdirectory failures are logged and skipped unless the kernel is out of
// watch handles.
func (r *Registrar) scan(rt *root, dir string, reported bool, visited map[string]struct{}) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	if _, seen := visited[resolved]; seen {
		return nil
	}
	visited[resolved] = struct{}{}

	if err := r.acquire(rt, dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == rt.path {
			return fmt.Errorf("%w: reading %s: %v", apperrors.ErrWatchInstall, dir, err)
		}
		r.logger.Warn("skipping unreadable directory", "dir", dir, "error", err)
		return nil
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if r.excluded(full) {
			continue
		}
		isDir := entry.IsDir()
		var info os.FileInfo
		if entry.Type()&fs.ModeSymlink != 0 {
			if !r.opts.FollowSymlinks {
				continue
			}
			target, err := os.Stat(full)
			if err != nil {
				continue
			}
			isDir = target.IsDir()
			info = target
		}
		if !isDir {
			if entry.Type().IsRegular() || entry.Type()&fs.ModeSymlink != 0 {
				if info == nil {
					info, _ = entry.Info()
				}
				if info != nil {
					r.ids[full] = info
				}
				r.queue.Enqueue(full, reported)
			}
			continue
		}
		if err := r.scan(rt, full, reported, visited); err != nil {
			if errors.Is(err, apperrors.ErrWatchLimit) {
				return err
			}
			r.logger.Warn("skipping subdirectory", "dir", full, "error", err)
		}
	}
	return nil
}

// acquire takes a reference on the native watch for dir, installing it on
// first use.
func (r *Registrar) acquire(rt *root, dir string) error {
	if _, held := rt.dirs[dir]; held {
		return nil
	}
	if r.refs[dir] == 0 {
		if err := r.watcher.Add(dir); err != nil {
			if apperrors.IsResourceExhausted(err) {
				return fmt.Errorf("%w: %s: %v", apperrors.ErrWatchLimit, dir, err)
			}
			return fmt.Errorf("%w: %s: %v", apperrors.ErrWatchInstall, dir, err)
		}
	}
	r.refs[dir]++
	rt.dirs[dir] = struct{}{}
	return nil
}

func (r *Registrar) release(rt *root, dir string) {
	if _, held := rt.dirs[dir]; !held {
		return
	}
	delete(rt.dirs, dir)
	r.refs[dir]--
	if r.refs[dir] > 0 {
		return
	}
	delete(r.refs, dir)
	// The kernel drops the watch itself when the directory goes away.
	if err := r.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		r.logger.Debug("removing native watch", "dir", dir, "error", err)
	}
}

func (r *Registrar) releaseAll(rt *root) {
	for dir := range rt.dirs {
		r.release(rt, dir)
	}
}

// releaseSubtree drops every watch at or below dir from every root.
func (r *Registrar) releaseSubtree(dir string) {
	prefix := dir + string(filepath.Separator)
	for _, rt := range r.roots {
		for d := range rt.dirs {
			if d == dir || strings.HasPrefix(d, prefix) {
				r.release(rt, d)
			}
		}
	}
}

// sameFile reports whether path currently names the file saved identifies.
func sameFile(path string, saved os.FileInfo) bool {
	if saved == nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && os.SameFile(info, saved)
}

// forgetUnwatched drops identities of files no native watch covers any more.
func (r *Registrar) forgetUnwatched() {
	for p := range r.ids {
		if _, ok := r.refs[filepath.Dir(p)]; !ok {
			delete(r.ids, p)
		}
	}
}

// covering returns the directory roots that watch dir.
func (r *Registrar) covering(dir string) []*root {
	var out []*root
	for _, rt := range r.roots {
		if !rt.isDir {
			continue
		}
		if _, ok := rt.dirs[dir]; ok {
			out = append(out, rt)
		}
	}
	return out
}

// rekey carries a single-file subscription over to its new name.
func (r *Registrar) rekey(from, to string) {
	rt, ok := r.roots[from]
	if !ok || rt.isDir {
		return
	}
	delete(r.roots, from)
	if _, exists := r.roots[to]; exists {
		r.releaseAll(rt)
		return
	}
	newDir := filepath.Dir(to)
	if newDir != filepath.Dir(from) {
		oldDirs := rt.dirs
		rt.dirs = make(map[string]struct{})
		if err := r.acquire(rt, newDir); err != nil {
			r.logger.Warn("rename target not watchable, subscription dropped", "path", to, "error", err)
			rt.dirs = oldDirs
			r.releaseAll(rt)
			return
		}
		for d := range oldDirs {
			rt.dirs[d] = struct{}{}
			r.release(rt, d)
		}
	}
	rt.path = to
	r.roots[to] = rt
	r.logger.Debug("file subscription renamed", "from", from, "to", to)
}
