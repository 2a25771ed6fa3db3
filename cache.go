package pinfs

import (
	"container/list"
	"fmt"
	"sync"
)

// cacheSlot is one cache residency position (spec.md §3 CacheEntry). Every field is
// guarded by Cache.mu except for the SectorSize bytes of data during an in-flight
// I/O, where ready==false is what protects the buffer instead (spec.md I2): the
// goroutine that flipped ready to false owns data exclusively until it flips it back
// and broadcasts untilReady.
type cacheSlot struct {
	sector uint32 // noSector while this slot backs nothing
	data   [SectorSize]byte
	dirty  bool
	ready  bool

	untilReady *sync.Cond    // per-slot readiness signal (spec.md §3)
	elem       *list.Element // this slot's node in Cache.lru
}

// Cache is the bounded, write-back sector cache spec.md §4.1 describes. All public
// methods take the global mutex; device I/O is always performed with it released,
// matching the lock-order rule in spec.md §5 ("device I/O is always performed with
// no higher-level mutex held").
type Cache struct {
	mu        sync.Mutex
	someReady *sync.Cond // global "some slot became ready" signal
	slots     [NumSlots]*cacheSlot
	lru       *list.List // front = most recently used
	dev       BlockDevice
	metrics   *Metrics
}

// NewCache builds the LRU list of NumSlots empty, ready, clean slots (spec.md
// bufcache_init / Cache.Init).
func NewCache(dev BlockDevice, metrics *Metrics) *Cache {
	if metrics == nil {
		metrics = NewMetrics()
	}
	c := &Cache{
		lru:     list.New(),
		dev:     dev,
		metrics: metrics,
	}
	c.someReady = sync.NewCond(&c.mu)
	for i := range c.slots {
		s := &cacheSlot{sector: noSector, ready: true}
		s.untilReady = sync.NewCond(&c.mu)
		s.elem = c.lru.PushFront(s)
		c.slots[i] = s
	}
	return c
}

// markSlotReady flips ready to true and wakes every waiter on this slot and on the
// global "some slot became ready" signal. mu must be held.
func (c *Cache) markSlotReady(s *cacheSlot) {
	s.ready = true
	s.untilReady.Broadcast()
	c.someReady.Broadcast()
}

func (c *Cache) find(sector uint32) *cacheSlot {
	for _, s := range c.slots {
		if s.sector == sector {
			return s
		}
	}
	return nil
}

// evictionCandidate scans the LRU list tail-to-head for the first ready slot
// (spec.md get_eviction_candidate / "pure LRU among ready slots, tail preferred").
func (c *Cache) evictionCandidate() *cacheSlot {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		s := e.Value.(*cacheSlot)
		if s.ready {
			return s
		}
	}
	return nil
}

// cleanLocked writes a dirty slot back in place, without reassigning its sector, so
// the next access() iteration can either find its target already filled by another
// goroutine or rebind this now-clean slot. mu must be held on entry and is held on
// return; it is released during the device write.
func (c *Cache) cleanLocked(s *cacheSlot) error {
	s.ready = false
	sector := s.sector
	buf := s.data // copy out; safe, we still hold mu and nobody else can touch data
	c.mu.Unlock()
	err := c.dev.WriteSector(sector, buf[:])
	c.mu.Lock()
	s.ready = true
	s.dirty = false
	c.markSlotReady(s)
	if err != nil {
		return fmt.Errorf("pinfs: cache writeback sector %d: %w", sector, err)
	}
	c.metrics.CacheWritebacks.Inc()
	return nil
}

// replaceLocked rebinds a clean slot to sector, reading its contents from the
// device. mu must be held on entry and is held on return; released during the read.
func (c *Cache) replaceLocked(s *cacheSlot, sector uint32) error {
	s.sector = sector
	s.ready = false
	c.mu.Unlock()
	var buf [SectorSize]byte
	err := c.dev.ReadSector(sector, buf[:])
	c.mu.Lock()
	s.data = buf
	c.markSlotReady(s)
	if err != nil {
		s.sector = noSector
		return fmt.Errorf("pinfs: cache refill sector %d: %w", sector, err)
	}
	return nil
}

// access implements bufcache_access: the retry loop that finds or makes resident the
// slot backing sector, moving it to the front of the LRU on success. mu must be held
// on entry and is held on return.
func (c *Cache) access(sector uint32) (*cacheSlot, error) {
	missed := false
	for {
		if match := c.find(sector); match != nil {
			if !match.ready {
				logger.Debugw("pinfs: cache blocked on in-flight slot", "sector", sector)
				match.untilReady.Wait()
				continue
			}
			c.lru.MoveToFront(match.elem)
			if !missed {
				c.metrics.CacheHits.Inc()
			}
			return match, nil
		}
		if !missed {
			missed = true
			c.metrics.CacheMisses.Inc()
		}

		cand := c.evictionCandidate()
		if cand == nil {
			logger.Debugw("pinfs: cache blocked, no ready slot to evict", "sector", sector)
			c.someReady.Wait()
			continue
		}
		if cand.dirty {
			if err := c.cleanLocked(cand); err != nil {
				return nil, err
			}
			continue
		}
		logger.Debugw("pinfs: cache eviction", "evicted_sector", cand.sector, "for_sector", sector)
		c.metrics.CacheEvictions.Inc()
		if err := c.replaceLocked(cand, sector); err != nil {
			return nil, err
		}
		// re-loop: find() will now locate the just-filled slot and fix up LRU.
	}
}

// Read copies length bytes out of the cached sector into dst[0:length].
// Precondition: offsetInSector+length <= SectorSize (a programming error otherwise).
func (c *Cache) Read(sector uint32, dst []byte, offsetInSector, length int) error {
	if offsetInSector+length > SectorSize {
		panic("pinfs: cache read out of sector bounds")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.access(sector)
	if err != nil {
		return err
	}
	copy(dst, s.data[offsetInSector:offsetInSector+length])
	return nil
}

// Write copies length bytes from src into the cached sector and marks it dirty.
// Precondition: offsetInSector+length <= SectorSize.
func (c *Cache) Write(sector uint32, src []byte, offsetInSector, length int) error {
	if offsetInSector+length > SectorSize {
		panic("pinfs: cache write out of sector bounds")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.access(sector)
	if err != nil {
		return err
	}
	copy(s.data[offsetInSector:offsetInSector+length], src)
	s.dirty = true
	return nil
}

// Flush writes every dirty, ready slot back to the device.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		for s.dirty && !s.ready {
			s.untilReady.Wait()
		}
		if s.dirty {
			if err := c.cleanLocked(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset flushes then drops all residency; a test hook only (spec.md §4.1).
func (c *Cache) Reset() error {
	if err := c.Flush(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		for !s.ready {
			s.untilReady.Wait()
		}
		s.sector = noSector
		s.dirty = false
	}
	return nil
}
