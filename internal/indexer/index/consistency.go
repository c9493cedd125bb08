package index

import (
	"fmt"
	"sort"
)

// Verify checks that p is in the bucket of w exactly when w is in the word
// set of p. It walks every shard without a global lock, so it is only
// meaningful while no mutation is in flight.
func (s *Store) Verify() error {
	forward := make(map[string]wordSet)
	for _, fs := range s.files {
		fs.mu.RLock()
		for p, words := range fs.entries {
			forward[p] = words
		}
		fs.mu.RUnlock()
	}

	inverted := make(map[string]map[string]struct{})
	for _, ws := range s.words {
		ws.mu.RLock()
		for w, b := range ws.buckets {
			b.mu.RLock()
			paths := make(map[string]struct{}, len(b.paths))
			for p := range b.paths {
				paths[p] = struct{}{}
			}
			b.mu.RUnlock()
			if len(paths) == 0 {
				ws.mu.RUnlock()
				return fmt.Errorf("word %q has an empty bucket", w)
			}
			inverted[w] = paths
		}
		ws.mu.RUnlock()
	}

	var problems []string
	for p, words := range forward {
		for w := range words {
			if _, ok := inverted[w][p]; !ok {
				problems = append(problems, fmt.Sprintf("%s lists %q but bucket lacks it", p, w))
			}
		}
	}
	for w, paths := range inverted {
		for p := range paths {
			if _, ok := forward[p][w]; !ok {
				problems = append(problems, fmt.Sprintf("bucket %q holds %s but its word set lacks it", w, p))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("index inconsistent (%d problems), first: %s", len(problems), problems[0])
	}
	return nil
}
