package xv6fs

import "sync"

// slot is a reference-counted, individually-locked cache entry, keyed by a
// uint32 (a block number or an inode number). The table holds one strong
// reference per slot; refs tracks additional references held by callers —
// spec.md's Design Notes call this "external reference count = strong_count
// − 1", which here is simply the refs field.
type slot[V any] struct {
	mu   sync.Mutex
	key  uint32
	val  V
	refs int32 // external references only; guarded by the owning table's mu
}

// locked is a slot handle that currently holds the slot's own lock. The
// zero value is not usable; obtain one via table.lock.
type locked[V any] struct {
	s *slot[V]
}

func (l locked[V]) key() uint32  { return l.s.key }
func (l locked[V]) get() *V      { return &l.s.val }
func (l locked[V]) unlock()      { l.s.mu.Unlock() }

// table is a capacity-bounded map from key to slot, guarded by one mutex.
// The map lock is never held while acquiring a slot's own lock — callers
// that need the value locked must call lock() only after get/alloc has
// returned, exactly matching spec.md §4.2/§4.4's stated invariant.
type table[V any] struct {
	mu       sync.Mutex
	capacity int
	slots    map[uint32]*slot[V]
}

func newTable[V any](capacity int) *table[V] {
	return &table[V]{
		capacity: capacity,
		slots:    make(map[uint32]*slot[V]),
	}
}

// get returns the existing slot for key, bumping its external refcount. If
// absent, it allocates a new slot (initialized with zero(key)), evicting one
// unreferenced, evictable() slot if the table is at capacity. It reports
// ok=false if the table is full and nothing could be evicted.
func (t *table[V]) get(key uint32, zero func(uint32) V, evictable func(*V) bool) (s *slot[V], ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, found := t.slots[key]; found {
		s.refs++
		return s, true
	}

	if len(t.slots) >= t.capacity {
		victim := uint32(0)
		haveVictim := false
		for k, s := range t.slots {
			if s.refs == 0 && evictable(&s.val) {
				victim, haveVictim = k, true
				break
			}
		}
		if !haveVictim {
			return nil, false
		}
		delete(t.slots, victim)
	}

	s = &slot[V]{key: key, val: zero(key), refs: 1}
	t.slots[key] = s
	return s, true
}

// release drops one external reference to s. It does not itself evict s;
// eviction only happens lazily, from a future get() call that needs room.
func (t *table[V]) release(s *slot[V]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.refs <= 0 {
		fatalf("xv6fs: release of slot %d with refs=%d", s.key, s.refs)
	}
	s.refs--
}

// lock acquires the slot's own lock, outside of the table lock.
func (t *table[V]) lock(s *slot[V]) locked[V] {
	s.mu.Lock()
	return locked[V]{s: s}
}

// size reports the number of resident slots, for tests.
func (t *table[V]) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// reset drops every slot unconditionally; used only by tests and by mount
// to start from a clean cache.
func (t *table[V]) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots = make(map[uint32]*slot[V])
}
