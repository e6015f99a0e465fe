package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/client"
)

func TestModuleCacheFetchesOnceAndReusesEntry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("print('hi')"))
	}))
	defer srv.Close()

	cache := NewModuleCache(client.New(srv.URL))
	ctx := context.Background()

	b1, err := cache.Fetch(ctx, "acme", "deadbeef", "w.py")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(b1))

	b2, err := cache.Fetch(ctx, "acme", "deadbeef", "w.py")
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "a cache hit must not re-fetch")
}

func TestModuleCacheKeyedByFullTriple(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	cache := NewModuleCache(client.New(srv.URL))
	ctx := context.Background()

	_, err := cache.Fetch(ctx, "acme", "c1", "w.py")
	require.NoError(t, err)
	_, err = cache.Fetch(ctx, "acme", "c2", "w.py")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "a different commit hash is a cache miss")
}
