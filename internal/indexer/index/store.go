// Package index holds the in-memory forward (file -> words) and inverted
// (word -> files) maps. Both maps are sharded by key hash and every word
// bucket carries its own lock, so readers and writers on different keys
// never contend on a store-wide mutex.
package index

import (
	"log/slog"
	"math/bits"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when NewStore is given a non-positive shard count.
const DefaultShards = 64

// pathStripes serializes mutations that target the same path.
const pathStripes = 256

type wordSet map[string]struct{}

type fileShard struct {
	mu      sync.RWMutex
	entries map[string]wordSet
}

type bucket struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

type wordShard struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// Store is the bidirectional word <-> file index.
type Store struct {
	files  []*fileShard
	words  []*wordShard
	mask   uint64
	stripe [pathStripes]sync.Mutex
	logger *slog.Logger
}

// NewStore creates a Store with shards rounded up to a power of two.
func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}
	n := 1 << bits.Len(uint(shards-1))
	s := &Store{
		files:  make([]*fileShard, n),
		words:  make([]*wordShard, n),
		mask:   uint64(n - 1),
		logger: slog.Default().With("component", "index-store"),
	}
	for i := 0; i < n; i++ {
		s.files[i] = &fileShard{entries: make(map[string]wordSet)}
		s.words[i] = &wordShard{buckets: make(map[string]*bucket)}
	}
	return s
}

func (s *Store) fileShardFor(path string) *fileShard {
	return s.files[xxhash.Sum64String(path)&s.mask]
}

func (s *Store) wordShardFor(word string) *wordShard {
	return s.words[xxhash.Sum64String(word)&s.mask]
}

func (s *Store) lockPath(path string) func() {
	mu := &s.stripe[xxhash.Sum64String(path)%pathStripes]
	mu.Lock()
	return mu.Unlock
}

// lockPaths locks the stripes of two paths in a fixed order.
func (s *Store) lockPaths(a, b string) func() {
	i := xxhash.Sum64String(a) % pathStripes
	j := xxhash.Sum64String(b) % pathStripes
	if i == j {
		s.stripe[i].Lock()
		return s.stripe[i].Unlock
	}
	if i > j {
		i, j = j, i
	}
	s.stripe[i].Lock()
	s.stripe[j].Lock()
	return func() {
		s.stripe[j].Unlock()
		s.stripe[i].Unlock()
	}
}

func distinct(words []string) wordSet {
	set := make(wordSet, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Add indexes path with the given words. An existing entry is treated as
// Change.
func (s *Store) Add(words []string, path string) {
	unlock := s.lockPath(path)
	defer unlock()
	s.replace(distinct(words), path)
}

// Change replaces the word set of path. A path without a prior entry is
// indexed from an empty word set, which makes Change on an unknown path
// equivalent to Add.
func (s *Store) Change(words []string, path string) {
	unlock := s.lockPath(path)
	defer unlock()
	s.replace(distinct(words), path)
}

// replace must be called with the path stripe held. Newly present words are
// linked before the forward entry is swapped and vanished words are unlinked
// after it, so words kept across the change stay visible throughout.
func (s *Store) replace(next wordSet, path string) {
	prev, _ := s.forward(path)
	for w := range next {
		if _, kept := prev[w]; !kept {
			s.link(w, path)
		}
	}
	fs := s.fileShardFor(path)
	fs.mu.Lock()
	fs.entries[path] = next
	fs.mu.Unlock()
	for w := range prev {
		if _, kept := next[w]; !kept {
			s.unlink(w, path)
		}
	}
}

// Delete removes path and all of its postings. It reports whether path was
// indexed.
func (s *Store) Delete(path string) bool {
	unlock := s.lockPath(path)
	defer unlock()
	return s.remove(path)
}

func (s *Store) remove(path string) bool {
	fs := s.fileShardFor(path)
	fs.mu.Lock()
	words, ok := fs.entries[path]
	delete(fs.entries, path)
	fs.mu.Unlock()
	if !ok {
		return false
	}
	for w := range words {
		s.unlink(w, path)
	}
	return true
}

// Move relabels from as to without touching its word set. Each bucket swaps
// the name under its own lock, so a concurrent Lookup sees exactly one of
// the two names per word. An existing entry at to is replaced. Move reports
// whether from was indexed.
func (s *Store) Move(from, to string) bool {
	if from == to {
		return s.Has(from)
	}
	unlock := s.lockPaths(from, to)
	defer unlock()

	words, ok := s.forward(from)
	if !ok {
		return false
	}
	if s.remove(to) {
		s.logger.Debug("move replaced existing target", "from", from, "to", to)
	}

	for w := range words {
		ws := s.wordShardFor(w)
		ws.mu.RLock()
		b := ws.buckets[w]
		if b != nil {
			b.mu.Lock()
			delete(b.paths, from)
			b.paths[to] = struct{}{}
			b.mu.Unlock()
		}
		ws.mu.RUnlock()
		if b == nil {
			s.link(w, to)
		}
	}

	dst := s.fileShardFor(to)
	dst.mu.Lock()
	dst.entries[to] = words
	dst.mu.Unlock()
	src := s.fileShardFor(from)
	src.mu.Lock()
	delete(src.entries, from)
	src.mu.Unlock()
	return true
}

// Lookup returns, for each word in query order, every path containing it.
// Results are a union without deduplication across words; paths within one
// word are sorted.
func (s *Store) Lookup(words ...string) []string {
	var out []string
	for _, w := range words {
		ws := s.wordShardFor(w)
		ws.mu.RLock()
		b := ws.buckets[w]
		var paths []string
		if b != nil {
			b.mu.RLock()
			paths = make([]string, 0, len(b.paths))
			for p := range b.paths {
				paths = append(paths, p)
			}
			b.mu.RUnlock()
		}
		ws.mu.RUnlock()
		sort.Strings(paths)
		out = append(out, paths...)
	}
	return out
}

func (s *Store) forward(path string) (wordSet, bool) {
	fs := s.fileShardFor(path)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	words, ok := fs.entries[path]
	return words, ok
}

// link adds path to the bucket of word, creating the bucket when missing.
func (s *Store) link(word, path string) {
	ws := s.wordShardFor(word)
	ws.mu.RLock()
	if b := ws.buckets[word]; b != nil {
		b.mu.Lock()
		b.paths[path] = struct{}{}
		b.mu.Unlock()
		ws.mu.RUnlock()
		return
	}
	ws.mu.RUnlock()

	ws.mu.Lock()
	defer ws.mu.Unlock()
	b := ws.buckets[word]
	if b == nil {
		b = &bucket{paths: make(map[string]struct{}, 1)}
		ws.buckets[word] = b
	}
	b.mu.Lock()
	b.paths[path] = struct{}{}
	b.mu.Unlock()
}

// unlink removes path from the bucket of word and prunes the bucket once it
// is empty. Pruning holds the shard write lock, which excludes every link
// that could still be holding the bucket pointer.
func (s *Store) unlink(word, path string) {
	ws := s.wordShardFor(word)
	ws.mu.RLock()
	b := ws.buckets[word]
	empty := false
	if b != nil {
		b.mu.Lock()
		delete(b.paths, path)
		empty = len(b.paths) == 0
		b.mu.Unlock()
	}
	ws.mu.RUnlock()
	if !empty {
		return
	}

	ws.mu.Lock()
	if b := ws.buckets[word]; b != nil {
		b.mu.RLock()
		if len(b.paths) == 0 {
			delete(ws.buckets, word)
		}
		b.mu.RUnlock()
	}
	ws.mu.Unlock()
}

// Has reports whether path is in the forward index.
func (s *Store) Has(path string) bool {
	_, ok := s.forward(path)
	return ok
}

// Words returns the sorted word set of path.
func (s *Store) Words(path string) ([]string, bool) {
	set, ok := s.forward(path)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out, true
}

// Paths returns every indexed path, sorted.
func (s *Store) Paths() []string {
	var out []string
	for _, fs := range s.files {
		fs.mu.RLock()
		for p := range fs.entries {
			out = append(out, p)
		}
		fs.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// PathsUnder returns indexed paths strictly below dir.
func (s *Store) PathsUnder(dir string) []string {
	prefix := strings.TrimRight(dir, string(filepath.Separator)) + string(filepath.Separator)
	var out []string
	for _, fs := range s.files {
		fs.mu.RLock()
		for p := range fs.entries {
			if strings.HasPrefix(p, prefix) {
				out = append(out, p)
			}
		}
		fs.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Stats is a point-in-time size summary.
type Stats struct {
	Files int `json:"files"`
	Words int `json:"words"`
}

// Stats counts forward entries and non-empty word buckets.
func (s *Store) Stats() Stats {
	var st Stats
	for _, fs := range s.files {
		fs.mu.RLock()
		st.Files += len(fs.entries)
		fs.mu.RUnlock()
	}
	for _, ws := range s.words {
		ws.mu.RLock()
		st.Words += len(ws.buckets)
		ws.mu.RUnlock()
	}
	return st
}
