package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/live-file-indexer/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/redis"
)

type fakeIndex struct {
	mu         sync.Mutex
	words      map[string][]string
	roots      []string
	generation uint64
	lookups    int
	addErr     error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{words: map[string][]string{
		"alpha": {"/r/a.txt", "/r/b.txt"},
		"beta":  {"/r/b.txt"},
	}}
}

func (f *fakeIndex) Lookup(words ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	var out []string
	for _, w := range words {
		out = append(out, f.words[w]...)
	}
	return out
}

func (f *fakeIndex) Lexer() tokenizer.Lexer { return tokenizer.NewNaiveLexer(0) }

func (f *fakeIndex) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

func (f *fakeIndex) Add(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.roots = append(f.roots, path)
	return nil
}

func (f *fakeIndex) Remove(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.roots {
		if r == path {
			f.roots = append(f.roots[:i], f.roots[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeIndex) Roots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roots...)
}

func (f *fakeIndex) Stats() indexer.Stats {
	return indexer.Stats{Files: 2, Words: 2, Roots: len(f.Roots()), Generation: f.Generation()}
}

type memBackend struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string]string)
	return n, nil
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestLookupReturnsUnionInQueryOrder(t *testing.T) {
	h := New(newFakeIndex(), nil, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=beta+alpha", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LookupResponse](t, rec)
	assert.Equal(t, []string{"beta", "alpha"}, resp.Words)
	assert.Equal(t, []string{"/r/b.txt", "/r/a.txt", "/r/b.txt"}, resp.Paths)
	assert.Equal(t, 3, resp.Total)
	assert.False(t, resp.CacheHit)
}

func TestLookupRequiresQuery(t *testing.T) {
	h := New(newFakeIndex(), nil, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupOfSeparatorsOnlyIsEmpty(t *testing.T) {
	idx := newFakeIndex()
	h := New(idx, nil, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=%2C%3B", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LookupResponse](t, rec)
	assert.Empty(t, resp.Paths)
	assert.Zero(t, idx.lookups)
}

func TestLookupRejectsTooManyWords(t *testing.T) {
	words := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	h := New(newFakeIndex(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q="+strings.Join(words, "+"), nil)
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupUsesCacheUntilGenerationChanges(t *testing.T) {
	idx := newFakeIndex()
	c := cache.New(&memBackend{data: make(map[string]string)}, time.Minute)
	h := New(idx, c, nil)

	first := decode[LookupResponse](t, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=alpha", nil)))
	second := decode[LookupResponse](t, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=alpha", nil)))
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Paths, second.Paths)
	assert.Equal(t, 1, idx.lookups)

	idx.mu.Lock()
	idx.generation++
	idx.mu.Unlock()
	third := decode[LookupResponse](t, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=alpha", nil)))
	assert.False(t, third.CacheHit)
	assert.Equal(t, 2, idx.lookups)
}

type slowIndex struct {
	*fakeIndex
}

func (s slowIndex) Lookup(words ...string) []string {
	time.Sleep(20 * time.Millisecond)
	return s.fakeIndex.Lookup(words...)
}

func TestConcurrentLookupsKeepTheirOwnQuery(t *testing.T) {
	c := cache.New(&memBackend{data: make(map[string]string)}, time.Minute)
	h := New(slowIndex{newFakeIndex()}, c, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	queries := []string{"alpha", "alpha.", "alpha!", "alpha?", "alpha,"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		q := queries[i%len(queries)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q="+url.QueryEscape(q), nil))
			var resp LookupResponse
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)) {
				assert.Equal(t, q, resp.Query)
				assert.Equal(t, []string{"/r/a.txt", "/r/b.txt"}, resp.Paths)
			}
		}()
	}
	wg.Wait()
}

func TestRootLifecycle(t *testing.T) {
	idx := newFakeIndex()
	h := New(idx, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/roots", strings.NewReader(`{"path":"/srv/docs"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/roots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[map[string][]string](t, rec)
	assert.Equal(t, []string{"/srv/docs"}, listed["roots"])

	rec = serve(h, httptest.NewRequest(http.MethodDelete, "/api/v1/roots?path=/srv/docs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["removed"])

	rec = serve(h, httptest.NewRequest(http.MethodDelete, "/api/v1/roots?path=/srv/docs", nil))
	assert.Equal(t, false, decode[map[string]any](t, rec)["removed"])
}

func TestAddRootMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing", fmt.Errorf("add /x: %w", apperrors.ErrRootNotFound), http.StatusNotFound},
		{"limit", fmt.Errorf("add /x: %w", apperrors.ErrWatchLimit), http.StatusInsufficientStorage},
		{"install", fmt.Errorf("add /x: %w", apperrors.ErrWatchInstall), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := newFakeIndex()
			idx.addErr = tt.err
			rec := serve(New(idx, nil, nil), httptest.NewRequest(http.MethodPost, "/api/v1/roots", strings.NewReader(`{"path":"/x"}`)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAddRootRejectsBadBody(t *testing.T) {
	rec := serve(New(newFakeIndex(), nil, nil), httptest.NewRequest(http.MethodPost, "/api/v1/roots", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	disabled := New(newFakeIndex(), nil, nil)
	rec := serve(disabled, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c := cache.New(&memBackend{data: make(map[string]string)}, time.Minute)
	h := New(newFakeIndex(), c, nil)
	serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=alpha", nil))
	serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/lookup?q=alpha", nil))

	stats := decode[map[string]float64](t, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil)))
	assert.Equal(t, float64(1), stats["hits"])
	assert.Equal(t, float64(1), stats["misses"])

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["deleted"])
}

func TestStats(t *testing.T) {
	rec := serve(New(newFakeIndex(), nil, nil), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[indexer.Stats](t, rec)
	assert.Equal(t, 2, st.Files)
}
