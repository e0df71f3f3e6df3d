// Package audiocache avoids resynthesizing identical (text, voice, speed)
// requests within a process lifetime. It is a pure performance layer: a miss
// is a normal outcome, and evicting everything never changes the audio a
// caller receives, only how long it takes.
package audiocache

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shirou/gopsutil/v3/process"
)

// Key addresses one synthesis result by its semantic inputs.
type Key uint64

// Fingerprint derives the cache key from the exact text plus voice and
// speed. No normalization: "Hello" and "hello " synthesize differently.
func Fingerprint(text, voice string, speed float64) Key {
	d := xxhash.New()
	_, _ = d.WriteString(text)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(voice)
	_, _ = d.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(speed))
	_, _ = d.Write(buf[:])
	return Key(d.Sum64())
}

// Metadata is kept alongside cached audio for the diagnostics endpoint.
type Metadata struct {
	TextPrefix string
	Voice      string
	Speed      float64
}

type entry struct {
	data         []byte
	meta         Metadata
	cachedAt     time.Time
	lastAccessed time.Time
}

// Stats snapshots cache effectiveness counters.
type Stats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sweeps  int64 `json:"sweeps"`
}

// Cache is a bounded recency-evicting audio store, safe for concurrent use.
type Cache struct {
	capacity    int
	maxMemoryMB int
	log         *slog.Logger

	mu     sync.Mutex
	lru    *lru.Cache[Key, *entry]
	bytes  int64
	hits   int64
	misses int64
	sweeps int64
}

func New(capacity, maxMemoryMB int, log *slog.Logger) (*Cache, error) {
	c := &Cache{
		capacity:    capacity,
		maxMemoryMB: maxMemoryMB,
		log:         log.With(slog.String("component", "audio-cache")),
	}
	inner, err := lru.NewWithEvict[Key, *entry](capacity, func(_ Key, e *entry) {
		c.bytes -= int64(len(e.data))
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// Get returns cached audio or nil when absent; a hit refreshes recency.
func (c *Cache) Get(key Key) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil
	}
	e.lastAccessed = time.Now()
	c.hits++
	return e.data
}

// Put inserts or overwrites; an existing key is refreshed, and the oldest
// entry is evicted once capacity is exceeded.
func (c *Cache) Put(key Key, data []byte, meta Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if prev, ok := c.lru.Peek(key); ok {
		c.bytes -= int64(len(prev.data))
	}
	c.lru.Add(key, &entry{data: data, meta: meta, cachedAt: now, lastAccessed: now})
	c.bytes += int64(len(data))
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats snapshots counters for diagnostics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: c.lru.Len(),
		Bytes:   c.bytes,
		Hits:    c.hits,
		Misses:  c.misses,
		Sweeps:  c.sweeps,
	}
}

// sweep evicts down to half capacity, oldest first.
func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.capacity / 2
	removed := 0
	for c.lru.Len() > target {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
		removed++
	}
	if removed > 0 {
		c.sweeps++
	}
	return removed
}

// RunSweeper evicts aggressively when process memory crosses the configured
// ceiling, checking at the given interval until ctx is cancelled. RSS
// readings come from the OS, so this also reacts to pressure the cache
// didn't cause.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.maxMemoryMB <= 0 {
		return
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		c.log.Warn("memory sweeper disabled", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mem, err := proc.MemoryInfo()
			if err != nil {
				continue
			}
			rssMB := mem.RSS / 1024 / 1024
			if rssMB <= uint64(c.maxMemoryMB) {
				continue
			}
			removed := c.sweep()
			c.log.Info("memory pressure sweep",
				slog.Uint64("rss_mb", rssMB),
				slog.Int("evicted", removed))
		}
	}
}
