package xv6fs

import "sync/atomic"

// bufCacheCapacity is the number of buffer-cache slots, per spec.md §4.2.
const bufCacheCapacity = 256

// bufState packs the valid and dirty flags so they can be read and written
// without taking the slot's own lock. The eviction scan that BufferCache.Get
// runs through table.get only ever holds the table's map lock, never a slot lock, so these flags
// must be inspectable without locking the entry — see SPEC_FULL.md §3.
type bufState struct {
	valid int32
	dirty int32
}

// bufValue is the value type stored in the generic slot table for one
// cached block.
type bufValue struct {
	data  Block
	state bufState
}

func (s *bufState) isValid() bool { return atomic.LoadInt32(&s.valid) != 0 }
func (s *bufState) isDirty() bool { return atomic.LoadInt32(&s.dirty) != 0 }
func (s *bufState) setValid(v bool) {
	atomic.StoreInt32(&s.valid, boolToInt32(v))
}
func (s *bufState) setDirty(v bool) {
	atomic.StoreInt32(&s.dirty, boolToInt32(v))
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Buf is a locked handle on one cached block, held locked from Get until
// Release. Callers must call Release exactly once when done; it does not
// itself write the block back to disk.
type Buf struct {
	cache *BufferCache
	s     *slot[bufValue]
	l     locked[bufValue]
}

// Blockno returns the block number this buffer caches.
func (b *Buf) Blockno() uint32 { return b.l.key() }

// Data returns a pointer to the cached block contents, mutable in place.
func (b *Buf) Data() *Block { return &b.l.get().data }

// MarkDirty flags the buffer as needing a future write-back.
func (b *Buf) MarkDirty() { b.l.get().state.setDirty(true) }

// BufferCache is the fixed-capacity, reference-counted cache of disk blocks
// described in spec.md §4.2, implemented as a thin wrapper around the
// generic slot table.
type BufferCache struct {
	dev   *Device
	table *table[bufValue]
}

// NewBufferCache returns an empty buffer cache backed by dev.
func NewBufferCache(dev *Device) *BufferCache {
	return &BufferCache{dev: dev, table: newTable[bufValue](bufCacheCapacity)}
}

// Get returns a locked buffer for blockno, reading it from the device on
// first access. It panics if the cache is full and every resident buffer
// is dirty (dirty buffers are never evictable; spec.md §4.2 treats this as
// a fatal resource exhaustion, mirroring the "no evictable buffer" panic of
// the source's Cache::get).
func (c *BufferCache) Get(blockno uint32) *Buf {
	s, ok := c.table.get(blockno, func(uint32) bufValue { return bufValue{} },
		func(v *bufValue) bool { return !v.state.isDirty() })
	if !ok {
		fatalf("xv6fs: buffer cache exhausted, no evictable block for %d", blockno)
	}

	l := c.table.lock(s)
	if !l.get().state.isValid() {
		l.get().data = c.dev.Read(blockno)
		l.get().state.setValid(true)
	}
	return &Buf{cache: c, s: s, l: l}
}

// Release drops the caller's reference to b and unlocks its slot. b must
// not be used afterward. Get always locks, so Release must always unlock:
// otherwise a later Get of the same block number re-locks a slot mutex
// nothing ever released and blocks forever.
func (c *BufferCache) Release(b *Buf) {
	b.l.unlock()
	c.table.release(b.s)
}

// WriteBack flushes b's contents to the device if dirty, clearing the
// dirty flag. The caller must hold b's lock.
func (c *BufferCache) WriteBack(b *Buf) {
	v := b.l.get()
	if !v.state.isDirty() {
		return
	}
	c.dev.Write(b.Blockno(), v.data)
	v.state.setDirty(false)
}

// Size reports the number of resident buffers, for tests.
func (c *BufferCache) Size() int { return c.table.size() }

// Reset drops every cached buffer unconditionally. Used on mount to start
// from a clean cache and by tests.
func (c *BufferCache) Reset() { c.table.reset() }
