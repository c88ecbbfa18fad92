package rastercache

import (
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"tiler/internal/metrics"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the idle time after which an entry is evicted.
const DefaultTTL = 10 * time.Second

// Key identifies a decoded raster.
type Key struct {
	Source string
	Zoom   int
	Width  int
	Height int
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%d-%d-%d", k.Source, k.Zoom, k.Width, k.Height)
}

// Clock returns the current time.
type Clock func() time.Time

// Options configure a Cache.
type Options struct {
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// MaxEntries bounds the cache; 0 means unbounded.
	MaxEntries int
	// Clock defaults to time.Now.
	Clock Clock
}

type entry struct {
	img        image.Image
	lastAccess time.Time
}

// Cache is a TTL cache of decoded rasters. It is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[Key, *entry]
	ttl   time.Duration
	clock Clock
	group singleflight.Group

	// evictReason labels evictions reported by the LRU callback.
	evictReason string
}

// New returns an empty cache.
func New(opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	size := opts.MaxEntries
	if size <= 0 {
		size = math.MaxInt32
	}

	c := &Cache{ttl: opts.TTL, clock: opts.Clock, evictReason: "capacity"}
	lru, err := simplelru.NewLRU[Key, *entry](size, func(Key, *entry) {
		metrics.RasterCacheEvictions.WithLabelValues(c.evictReason).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("raster cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// TTL returns the idle eviction threshold.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// sweepLocked evicts entries idle longer than ttl. The LRU is ordered by
// access, so it stops at the first fresh entry.
func (c *Cache) sweepLocked(now time.Time, ttl time.Duration) int {
	c.evictReason = "ttl"
	defer func() { c.evictReason = "capacity" }()

	evicted := 0
	for {
		_, e, ok := c.lru.GetOldest()
		if !ok || now.Sub(e.lastAccess) <= ttl {
			break
		}
		c.lru.RemoveOldest()
		evicted++
	}
	metrics.RasterCacheEntries.Set(float64(c.lru.Len()))
	return evicted
}

// Get returns the raster for key and refreshes its access time.
func (c *Cache) Get(key Key) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	c.sweepLocked(now, c.ttl)
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e.lastAccess = now
	return e.img, true
}

// Put stores img under key.
func (c *Cache) Put(key Key, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	c.sweepLocked(now, c.ttl)
	c.lru.Add(key, &entry{img: img, lastAccess: now})
	metrics.RasterCacheEntries.Set(float64(c.lru.Len()))
}

// GetOrCreate returns the cached raster for key or stores the result of
// factory. Concurrent callers for the same key share one factory call.
func (c *Cache) GetOrCreate(key Key, factory func() (image.Image, error)) (image.Image, error) {
	if img, ok := c.Get(key); ok {
		metrics.RasterCacheHits.Inc()
		return img, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		if img, ok := c.Get(key); ok {
			return img, nil
		}
		metrics.RasterCacheMisses.Inc()
		img, err := factory()
		if err != nil {
			return nil, err
		}
		c.Put(key, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

// Touch refreshes key's access time. It reports whether key was cached.
func (c *Cache) Touch(key Key) bool {
	_, ok := c.Get(key)
	return ok
}

// EvictOlderThan removes entries idle longer than ttl and returns how many.
func (c *Cache) EvictOlderThan(ttl time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.clock(), ttl)
}

// Len returns the number of cached rasters without sweeping.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictReason = "purge"
	c.lru.Purge()
	c.evictReason = "capacity"
	metrics.RasterCacheEntries.Set(0)
}
