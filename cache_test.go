package pinfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*Cache, *MemBlockDevice) {
	dev := NewMemBlockDevice()
	return NewCache(dev, NewMetrics()), dev
}

func TestCacheReadWriteRoundTrip(t *testing.T) {
	c, _ := newTestCache()

	want := []byte("hello, pinfs")
	require.NoError(t, c.Write(5, want, 10, len(want)))

	got := make([]byte, len(want))
	require.NoError(t, c.Read(5, got, 10, len(want)))
	assert.Equal(t, want, got)
}

func TestCacheFlushClearsDirty(t *testing.T) {
	c, dev := newTestCache()

	buf := make([]byte, SectorSize)
	require.NoError(t, c.Write(3, buf, 0, SectorSize))

	_, writesBefore := dev.Counts()
	require.NoError(t, c.Flush())
	_, writesAfter := dev.Counts()
	assert.Greater(t, writesAfter, writesBefore)

	for _, s := range c.slots {
		assert.False(t, s.dirty)
	}
}

// TestCacheLRUFairness implements spec.md §8 scenario 6: touching 65 distinct
// sectors through a 64-slot cache evicts the first one touched and keeps the last
// one resident.
func TestCacheLRUFairness(t *testing.T) {
	require.Equal(t, 64, NumSlots)

	c, _ := newTestCache()
	buf := make([]byte, SectorSize)

	for s := uint32(0); s < 65; s++ {
		require.NoError(t, c.Read(s, buf, 0, SectorSize))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	assert.Nil(t, c.find(0), "sector touched first should have been evicted")

	last := c.find(64)
	require.NotNil(t, last, "sector touched last should still be resident")
	assert.True(t, last.ready)
}

func TestCacheOutOfBoundsPanics(t *testing.T) {
	c, _ := newTestCache()
	assert.Panics(t, func() {
		c.Read(0, make([]byte, 10), SectorSize-5, 10)
	})
}
