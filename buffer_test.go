package xv6fs

import "testing"

func newTestDevice(t *testing.T, nblocks int) *Device {
	t.Helper()
	dev := NewDevice()
	dev.Mount(make([]Block, nblocks))
	return dev
}

func TestBufferCacheReadWriteBack(t *testing.T) {
	dev := newTestDevice(t, 8)
	cache := NewBufferCache(dev)

	buf := cache.Get(3)
	buf.Data()[0] = 0xAB
	buf.MarkDirty()
	cache.WriteBack(buf)
	cache.Release(buf)

	cache.Reset()
	buf = cache.Get(3)
	got := buf.Data()[0]
	cache.Release(buf)

	if got != 0xAB {
		t.Fatalf("got %x, want 0xAB", got)
	}
}

func TestBufferCacheSharesSlotAcrossGets(t *testing.T) {
	dev := newTestDevice(t, 8)
	cache := NewBufferCache(dev)

	a := cache.Get(1)
	s := a.s
	cache.Release(a)

	b := cache.Get(1)
	defer cache.Release(b)
	if s != b.s {
		t.Fatalf("expected successive Get(1) calls to return the same slot")
	}
}

func TestBufferCacheEvictsOnlyClean(t *testing.T) {
	dev := newTestDevice(t, bufCacheCapacity+1)
	cache := NewBufferCache(dev)

	dirty := cache.Get(0)
	dirty.MarkDirty()
	cache.Release(dirty)

	for i := uint32(1); i < bufCacheCapacity; i++ {
		b := cache.Get(i)
		cache.Release(b)
	}

	// Cache is now full (capacity slots resident, all unreferenced). The
	// one dirty block must not be the eviction target.
	fresh := cache.Get(bufCacheCapacity)
	cache.Release(fresh)

	if cache.Size() > bufCacheCapacity {
		t.Fatalf("cache grew past capacity: %d", cache.Size())
	}
	cache.table.mu.Lock()
	_, resident := cache.table.slots[0]
	cache.table.mu.Unlock()
	if !resident {
		t.Fatalf("dirty block 0 was evicted")
	}
}
