package pathcache

import (
	"sort"
	"sync"

	"tilemove.ai/internal/movement/coord"
)

type flowKey struct {
	room coord.MapPosition
	key  string
}

type flowEntry struct {
	field *DirectionMatrix
	built uint64
}

// FlowCache keeps flow fields until they are invalidated explicitly, usually
// after a structural change in the room.
type FlowCache struct {
	mu      sync.Mutex
	entries map[flowKey]flowEntry

	hits, misses, builds, invalidations uint64
}

type CacheStats struct {
	Entries       int    `json:"entries"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Builds        uint64 `json:"builds"`
	Invalidations uint64 `json:"invalidations"`
}

func NewFlowCache() *FlowCache {
	return &FlowCache{entries: map[flowKey]flowEntry{}}
}

func (c *FlowCache) Get(room coord.MapPosition, key string) (*DirectionMatrix, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[flowKey{room, key}]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.field, true
}

// Put stores a field built at the given tick.
func (c *FlowCache) Put(room coord.MapPosition, key string, field *DirectionMatrix, tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[flowKey{room, key}] = flowEntry{field: field, built: tick}
	c.builds++
}

// GetOrBuild returns the cached field or builds and stores a new one.
func (c *FlowCache) GetOrBuild(room coord.MapPosition, key string, tick uint64, build func() (*DirectionMatrix, error)) (*DirectionMatrix, error) {
	if f, ok := c.Get(room, key); ok {
		return f, nil
	}
	f, err := build()
	if err != nil {
		return nil, err
	}
	c.Put(room, key, f, tick)
	return f, nil
}

// Invalidate drops every field for a room.
func (c *FlowCache) Invalidate(room coord.MapPosition) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.room == room {
			delete(c.entries, k)
			n++
		}
	}
	c.invalidations += uint64(n)
	return n
}

func (c *FlowCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:       len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		Builds:        c.builds,
		Invalidations: c.invalidations,
	}
}

// FlowRecord is the persisted form of one cached field.
type FlowRecord struct {
	Room  uint16
	Key   string
	Built uint64
	Field []byte
}

// Export returns every field ordered by room and key.
func (c *FlowCache) Export() []FlowRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FlowRecord, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, FlowRecord{Room: k.room.ID(), Key: k.key, Built: e.built, Field: e.field.Bytes()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room != out[j].Room {
			return out[i].Room < out[j].Room
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Import replaces the cache contents.
func (c *FlowCache) Import(records []FlowRecord) error {
	entries := make(map[flowKey]flowEntry, len(records))
	for _, r := range records {
		m, err := MatrixFromBytes(r.Field)
		if err != nil {
			return err
		}
		entries[flowKey{coord.MapPositionFromID(r.Room), r.Key}] = flowEntry{field: m, built: r.Built}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return nil
}
