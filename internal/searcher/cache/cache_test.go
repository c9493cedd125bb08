package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgredis "github.com/Adithya-Monish-Kumar-K/live-file-indexer/pkg/redis"
)

// memBackend is an in-memory Backend.
type memBackend struct {
	mu   sync.Mutex
	data map[string]string
	fail error
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]string)}
}

func (m *memBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	v, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestGetOrComputeCachesPerGeneration(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	ctx := context.Background()
	var calls atomic.Int32
	compute := func() (*Result, error) {
		calls.Add(1)
		return &Result{Words: []string{"a"}, Paths: []string{"/f"}, Total: 1}, nil
	}

	res, hit, err := c.GetOrCompute(ctx, []string{"a"}, 1, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []string{"/f"}, res.Paths)

	res, hit, err = c.GetOrCompute(ctx, []string{"a"}, 1, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"/f"}, res.Paths)
	assert.Equal(t, int32(1), calls.Load())

	_, hit, err = c.GetOrCompute(ctx, []string{"a"}, 2, compute)
	require.NoError(t, err)
	assert.False(t, hit, "a new generation never reuses older entries")
	assert.Equal(t, int32(2), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestKeyIsOrderSensitive(t *testing.T) {
	assert.NotEqual(t, buildKey([]string{"a", "b"}, 1), buildKey([]string{"b", "a"}, 1))
	assert.NotEqual(t, buildKey([]string{"ab"}, 1), buildKey([]string{"a", "b"}, 1))
	assert.Equal(t, buildKey([]string{"a"}, 3), buildKey([]string{"a"}, 3))
}

func TestComputeErrorIsReturned(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), []string{"x"}, 0, func() (*Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestBackendFailureFallsBackToCompute(t *testing.T) {
	backend := newMemBackend()
	backend.fail = errors.New("connection refused")
	c := New(backend, time.Minute)

	res, hit, err := c.GetOrCompute(context.Background(), []string{"x"}, 0, func() (*Result, error) {
		return &Result{Total: 3}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, res.Total)
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func() (*Result, error) {
		calls.Add(1)
		<-release
		return &Result{Total: 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), []string{"hot"}, 7, compute)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestInvalidate(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)
	ctx := context.Background()
	c.Set(ctx, []string{"a"}, 1, &Result{Total: 1})
	c.Set(ctx, []string{"b"}, 1, &Result{Total: 1})
	backend.data["other:key"] = "keep"

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, ok := c.Get(ctx, []string{"a"}, 1)
	assert.False(t, ok)
	assert.Contains(t, backend.data, "other:key")
}
