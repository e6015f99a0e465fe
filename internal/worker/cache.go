package worker

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/stagegraph/stagegraph/internal/client"
)

const (
	moduleCacheMaxCostBytes = 64 << 20 // cap cached workflow source per process at 64 MiB
	moduleCacheNumCounters  = 1e4
	moduleCacheBufferItems  = 64
)

// moduleCacheKey joins the (repo, commit, file) triple spec.md §4.6 keys the
// worker's per-process module cache by into ristretto's string key space.
func moduleCacheKey(repoName, commitHash, workflowFile string) string {
	return repoName + "/" + commitHash + "/" + workflowFile
}

// ModuleCache caches fetched workflow file bytes per worker process, the
// same repeated-fetch-by-key concern the teacher's pkg/serve/odb.cacheDB
// solves with github.com/dgraph-io/ristretto/v2 rather than an unbounded
// map: entries are size- and frequency-aware evicted under memory pressure
// instead of growing forever (spec.md §5: "safe to evict at any time — a
// future fetch just re-downloads").
type ModuleCache struct {
	cp    *client.Client
	cache *ristretto.Cache[string, []byte]
}

// NewModuleCache returns a cache that fetches misses through cp.
func NewModuleCache(cp *client.Client) *ModuleCache {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: moduleCacheNumCounters,
		MaxCost:     moduleCacheMaxCostBytes,
		BufferItems: moduleCacheBufferItems,
	})
	if err != nil {
		// NumCounters/MaxCost/BufferItems above are fixed, valid constants;
		// NewCache only ever fails on misconfiguration.
		panic(fmt.Sprintf("worker: build module cache: %v", err))
	}
	return &ModuleCache{cp: cp, cache: c}
}

// Fetch returns the cached bytes for (repoName, commitHash, workflowFile),
// downloading and caching them on a miss.
func (c *ModuleCache) Fetch(ctx context.Context, repoName, commitHash, workflowFile string) ([]byte, error) {
	key := moduleCacheKey(repoName, commitHash, workflowFile)

	if b, ok := c.cache.Get(key); ok {
		return b, nil
	}

	b, err := c.cp.FetchWorkflowFile(ctx, repoName, commitHash, workflowFile)
	if err != nil {
		return nil, fmt.Errorf("worker: fetch %s@%s/%s: %w", repoName, commitHash, workflowFile, err)
	}

	c.cache.Set(key, b, int64(len(b)))
	c.cache.Wait() // make the entry visible to the next Get before returning
	return b, nil
}
