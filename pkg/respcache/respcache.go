package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

const (
	keyPrefix        = "respcache"
	fieldResponse    = "response"
	fieldCreatedAt   = "created_at"
	maxResponseChars = 8192
)

// FetchFunc produces the upstream response on a cache miss.
type FetchFunc func(ctx context.Context) (*types.GenerateResponse, error)

// Cache is the fingerprinted response cache over Redis. Concurrent identical
// fingerprints share one upstream call through singleflight; entries carry a
// TTL and are stored as hashes so future per-field metadata stays cheap.
type Cache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	logger logging.Interface

	mu    sync.Mutex
	stats stats
	now   func() time.Time
}

type stats struct {
	total     int64
	hits      int64
	misses    int64
	sumServe  time.Duration
	minServe  time.Duration
	maxServe  time.Duration
	hasSample bool
}

// Metrics is the point-in-time cache health summary.
type Metrics struct {
	Total        int64   `json:"total_requests"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	MinLatencyMS float64 `json:"min_latency_ms"`
	MaxLatencyMS float64 `json:"max_latency_ms"`
}

// NewCache creates a Cache with the given TTL.
func NewCache(rdb redis.UniversalClient, ttl time.Duration, logger logging.Interface) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger, now: time.Now}
}

// Optimize serves the response for (layer, prompt, context) from cache when
// present, otherwise runs fetch once per fingerprint, post-processes the
// result, and stores it. Cache infrastructure failures degrade to a direct
// fetch; they never fail the request.
func (c *Cache) Optimize(ctx context.Context, layer, prompt string, reqContext types.Document, fetch FetchFunc) (*types.GenerateResponse, error) {
	start := c.now()
	key := c.key(layer, prompt, reqContext)

	if cached, ok := c.lookup(ctx, key); ok {
		cached.Cached = true
		c.record(true, c.now().Sub(start))
		return cached, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another waiter may have stored the entry while we queued.
		if cached, ok := c.lookup(ctx, key); ok {
			cached.Cached = true
			return cached, nil
		}

		response, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		optimized := c.postProcess(response)
		if optimized.Success {
			c.store(ctx, key, optimized)
		}
		return optimized, nil
	})
	if err != nil {
		c.record(false, c.now().Sub(start))
		return nil, err
	}

	response := value.(*types.GenerateResponse)
	c.record(response.Cached, c.now().Sub(start))
	return response, nil
}

// Clear removes cached entries, all of them or only one layer's.
func (c *Cache) Clear(ctx context.Context, layer string) error {
	pattern := fmt.Sprintf("%s:*", keyPrefix)
	if layer != "" {
		pattern = fmt.Sprintf("%s:%s:*", keyPrefix, layer)
	}

	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Metrics returns the cache counters since process start.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{Total: c.stats.total, Hits: c.stats.hits, Misses: c.stats.misses}
	if c.stats.total > 0 {
		m.HitRate = float64(c.stats.hits) / float64(c.stats.total)
		m.AvgLatencyMS = float64(c.stats.sumServe.Milliseconds()) / float64(c.stats.total)
	}
	if c.stats.hasSample {
		m.MinLatencyMS = float64(c.stats.minServe.Milliseconds())
		m.MaxLatencyMS = float64(c.stats.maxServe.Milliseconds())
	}
	return m
}

// key fingerprints (layer, prompt, normalized context). encoding/json sorts
// map keys, which gives the stable-ordered context serialization.
func (c *Cache) key(layer, prompt string, reqContext types.Document) string {
	normalized, err := json.Marshal(reqContext)
	if err != nil {
		normalized = []byte("{}")
	}

	h := sha256.New()
	h.Write([]byte(layer))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(normalized)

	return fmt.Sprintf("%s:%s:%s", keyPrefix, layer, hex.EncodeToString(h.Sum(nil)))
}

func (c *Cache) lookup(ctx context.Context, key string) (*types.GenerateResponse, bool) {
	payload, err := c.rdb.HGet(ctx, key, fieldResponse).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Response cache lookup failed")
		return nil, false
	}

	var response types.GenerateResponse
	if err := json.Unmarshal([]byte(payload), &response); err != nil {
		c.logger.WithError(err).Warn("Discarding undecodable cache entry")
		_ = c.rdb.Del(ctx, key).Err()
		return nil, false
	}
	return &response, true
}

func (c *Cache) store(ctx context.Context, key string, response *types.GenerateResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode response for cache")
		return
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldResponse, payload, fieldCreatedAt, c.now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to store response in cache")
	}
}

// postProcess bounds the response before caching: long generations are
// truncated and the timestamped optimized marker is attached.
func (c *Cache) postProcess(response *types.GenerateResponse) *types.GenerateResponse {
	out := *response
	if len(out.Text) > maxResponseChars {
		out.Text = out.Text[:maxResponseChars]
	}
	out.Optimized = true
	out.OptimizedAt = c.now().UTC().Format(time.RFC3339)
	return &out
}

func (c *Cache) record(hit bool, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.total++
	if hit {
		c.stats.hits++
	} else {
		c.stats.misses++
	}
	c.stats.sumServe += elapsed
	if !c.stats.hasSample || elapsed < c.stats.minServe {
		c.stats.minServe = elapsed
	}
	if elapsed > c.stats.maxServe {
		c.stats.maxServe = elapsed
	}
	c.stats.hasSample = true
}
