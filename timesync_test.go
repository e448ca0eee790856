package snmp3

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSyncCacheFreshness(t *testing.T) {
	clock := newFakeClock()
	c := NewTimeSyncCache()
	c.SetClock(clock.Now)
	id := agentEngineID(t)

	assert.False(t, c.IsFresh("agent"))
	c.Update("agent", id, 3, 1000)
	assert.True(t, c.IsFresh("agent"))

	clock.Advance(149 * time.Second)
	assert.True(t, c.IsFresh("agent"))

	clock.Advance(time.Second)
	assert.False(t, c.IsFresh("agent"), "a record synced exactly 150s ago is stale")

	r, ok := c.Get("agent")
	require.True(t, ok, "stale records are still returned")
	assert.Equal(t, uint32(3), r.EngineBoots)
	assert.True(t, r.EngineID.Equal(id))
}

func TestTimeSyncCacheEstimate(t *testing.T) {
	clock := newFakeClock()
	c := NewTimeSyncCache()
	c.SetClock(clock.Now)

	_, _, ok := c.Estimate("agent")
	assert.False(t, ok)

	c.Update("agent", agentEngineID(t), 3, 1000)
	clock.Advance(42500 * time.Millisecond)
	boots, engineTime, ok := c.Estimate("agent")
	require.True(t, ok)
	assert.Equal(t, uint32(3), boots)
	assert.Equal(t, uint32(1042), engineTime)

	c.Update("max", agentEngineID(t), 3, maxEngineValue)
	clock.Advance(time.Minute)
	_, engineTime, _ = c.Estimate("max")
	assert.Equal(t, uint32(maxEngineValue), engineTime)
}

func TestTimeSyncCacheRediscovery(t *testing.T) {
	c := NewTimeSyncCache()
	id := agentEngineID(t)
	c.Update("agent", id, 1, 10)

	assert.False(t, c.MarkRediscovery("agent"))
	assert.False(t, c.IsFresh("agent"))
	_, ok := c.Get("agent")
	assert.False(t, ok)
	known, ok := c.KnownEngineID("agent")
	require.True(t, ok)
	assert.True(t, known.Equal(id))

	assert.True(t, c.MarkRediscovery("agent"), "second mark without an update")

	c.Update("agent", id, 2, 0)
	assert.True(t, c.IsFresh("agent"))
	assert.False(t, c.MarkRediscovery("agent"), "update ends the rediscovery")

	assert.False(t, c.MarkRediscovery("unknown"))
	_, ok = c.KnownEngineID("unknown")
	assert.False(t, ok)
}

func TestTimeSyncCacheAdvance(t *testing.T) {
	clock := newFakeClock()
	c := NewTimeSyncCache()
	c.SetClock(clock.Now)
	id := agentEngineID(t)

	r, ok := c.Advance("agent", id, 2, 500)
	require.True(t, ok)
	assert.Equal(t, uint32(500), r.EngineTime)
	synced := r.SyncedAt

	clock.Advance(10 * time.Second)
	r, ok = c.Advance("agent", id, 2, 400)
	assert.True(t, ok, "inside the window")
	assert.Equal(t, uint32(500), r.EngineTime)
	assert.Equal(t, synced, r.SyncedAt)

	tests := []struct {
		name        string
		boots, time uint32
	}{
		{"too old", 2, 349},
		{"earlier boot", 1, 9999},
		{"boots latched", maxEngineValue, 0},
	}
	for _, tt := range tests {
		_, ok := c.Advance("agent", id, tt.boots, tt.time)
		assert.False(t, ok, tt.name)
	}
	r, _ = c.Get("agent")
	assert.Equal(t, uint32(2), r.EngineBoots)
	assert.Equal(t, uint32(500), r.EngineTime)

	r, ok = c.Advance("agent", id, 3, 1)
	require.True(t, ok)
	assert.Equal(t, uint32(3), r.EngineBoots)
	assert.Equal(t, clock.Now(), r.SyncedAt)

	c.MarkRediscovery("agent")
	_, ok = c.Advance("agent", id, 1, 1)
	assert.True(t, ok, "an invalidated record is replaced")
	assert.False(t, c.rediscoveryPending("agent"))
}

func TestTimeSyncCacheAdvanceConcurrent(t *testing.T) {
	c := NewTimeSyncCache()
	id := agentEngineID(t)
	c.Update("agent", id, 1, 0)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(engineTime uint32) {
			defer wg.Done()
			c.Advance("agent", id, 1, engineTime)
		}(uint32(i))
	}
	wg.Wait()

	r, ok := c.Get("agent")
	require.True(t, ok)
	assert.Equal(t, uint32(100), r.EngineTime)
}

func TestTimeSyncCacheSnapshot(t *testing.T) {
	clock := newFakeClock()
	c := NewTimeSyncCache()
	c.SetClock(clock.Now)
	c.Update("b", otherEngineID(t), 1, 1)
	clock.Advance(200 * time.Second)
	c.Update("a", agentEngineID(t), 2, 2)
	c.Update("gone", agentEngineID(t), 2, 2)
	c.MarkRediscovery("gone")

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Key)
	assert.True(t, snap[0].Fresh)
	assert.Equal(t, "b", snap[1].Key)
	assert.False(t, snap[1].Fresh)
}
