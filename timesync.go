package snmp3

import (
	"sort"
	"sync"
	"time"
)

// TimeWindow is how long a synchronized engine time is trusted (RFC 3414 3.2).
const TimeWindow = 150 * time.Second

type TimeSyncRecord struct {
	EngineID    EngineID
	EngineBoots uint32
	EngineTime  uint32
	SyncedAt    time.Time
}

type timeSyncEntry struct {
	record      TimeSyncRecord
	valid       bool
	rediscovery bool
}

// TimeSyncCache holds the last known boots and time of each authoritative
// engine, keyed by the target host or engine identity.
type TimeSyncCache struct {
	mu      sync.Mutex
	entries map[string]*timeSyncEntry
	now     func() time.Time
}

func NewTimeSyncCache() *TimeSyncCache {
	return &TimeSyncCache{entries: map[string]*timeSyncEntry{}, now: time.Now}
}

// SetClock replaces the clock used for freshness checks.
func (c *TimeSyncCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *TimeSyncCache) IsFresh(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.valid && c.now().Sub(e.record.SyncedAt) < TimeWindow
}

// Get returns the record for key even if it is stale. Records invalidated by
// MarkRediscovery are not returned.
func (c *TimeSyncCache) Get(key string) (TimeSyncRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.valid {
		return TimeSyncRecord{}, false
	}
	return e.record, true
}

// KnownEngineID returns the last engine ID seen for key, including one whose
// record was invalidated for rediscovery.
func (c *TimeSyncCache) KnownEngineID(key string) (EngineID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.record.EngineID.IsZero() {
		return EngineID{}, false
	}
	return e.record.EngineID, true
}

// Update stores a freshly synchronized record and ends any rediscovery.
func (c *TimeSyncCache) Update(key string, id EngineID, boots, engineTime uint32) TimeSyncRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := TimeSyncRecord{EngineID: id, EngineBoots: boots, EngineTime: engineTime, SyncedAt: c.now()}
	c.entries[key] = &timeSyncEntry{record: r, valid: true}
	return r
}

// Advance records the boots and time of an authenticated message from the
// engine id. It reports false, leaving the cache alone, when they fall outside
// the time window of the record held for key. A record is only moved forward:
// older boots and time inside the window keep it (RFC 3414 3.2 step 7b).
// The check and the update happen under one lock.
func (c *TimeSyncCache) Advance(key string, id EngineID, boots, engineTime uint32) (TimeSyncRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.valid && e.record.EngineID.Equal(id) {
		r := e.record
		if !inTimeWindow(r, boots, engineTime) {
			return r, false
		}
		if boots < r.EngineBoots || boots == r.EngineBoots && engineTime <= r.EngineTime {
			return r, true
		}
	}
	r := TimeSyncRecord{EngineID: id, EngineBoots: boots, EngineTime: engineTime, SyncedAt: c.now()}
	c.entries[key] = &timeSyncEntry{record: r, valid: true}
	return r, true
}

func inTimeWindow(r TimeSyncRecord, boots, engineTime uint32) bool {
	window := uint32(TimeWindow / time.Second)
	return boots != maxEngineValue &&
		boots >= r.EngineBoots &&
		!(boots == r.EngineBoots && engineTime+window < r.EngineTime)
}

// Estimate returns the engine boots and the engine time advanced by the local
// time elapsed since the record was synchronized.
func (c *TimeSyncCache) Estimate(key string) (boots, engineTime uint32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found || !e.valid {
		return 0, 0, false
	}
	elapsed := c.now().Sub(e.record.SyncedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	t := uint64(e.record.EngineTime) + uint64(elapsed/time.Second)
	if t > maxEngineValue {
		t = maxEngineValue
	}
	return e.record.EngineBoots, uint32(t), true
}

const maxEngineValue = 1<<31 - 1

// MarkRediscovery invalidates the record for key and reports whether a
// rediscovery had already been requested since the last Update.
func (c *TimeSyncCache) MarkRediscovery(key string) (already bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &timeSyncEntry{}
		c.entries[key] = e
	}
	already = e.rediscovery
	e.valid = false
	e.rediscovery = true
	return already
}

func (c *TimeSyncCache) rediscoveryPending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.rediscovery
}

type TimeSyncSnapshot struct {
	Key string
	TimeSyncRecord
	Fresh bool
}

func (c *TimeSyncCache) Snapshot() []TimeSyncSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]TimeSyncSnapshot, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.valid {
			continue
		}
		out = append(out, TimeSyncSnapshot{
			Key:            k,
			TimeSyncRecord: e.record,
			Fresh:          now.Sub(e.record.SyncedAt) < TimeWindow,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
