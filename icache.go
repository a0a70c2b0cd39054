package xv6fs

import "sync/atomic"

// inodeCacheCapacity is the number of inode-cache slots, per spec.md §4.4.
const inodeCacheCapacity = 256

// inodeState tracks whether the in-memory copy has been loaded from disk
// yet. It is stored atomically like bufState in buffer.go, but the inode
// cache's eviction predicate does not consult it.
type inodeState struct {
	valid int32
}

func (s *inodeState) isValid() bool   { return atomic.LoadInt32(&s.valid) != 0 }
func (s *inodeState) setValid(v bool) { atomic.StoreInt32(&s.valid, boolToInt32(v)) }

// inodeValue is the value type stored in the generic slot table for one
// cached inode.
type inodeValue struct {
	dinode diskInode
	state  inodeState
}

// Handle is a reference-counted, lockable handle on one cached inode,
// analogous to Buf for the buffer cache.
type Handle struct {
	cache *InodeCache
	s     *slot[inodeValue]
}

// Inum returns the inode number this handle refers to.
func (h *Handle) Inum() uint32 { return h.s.key }

// InodeCache is the fixed-capacity, reference-counted cache of in-memory
// inodes described in spec.md §4.4, implemented as a thin wrapper around
// the generic slot table. Unlike the buffer cache, most inode-layer
// operations (4.5, 4.6) lock the handle for their whole body, so Handle
// does not pre-acquire the lock the way Buf does; callers call Lock/Unlock
// explicitly around the disk-inode fields they touch.
type InodeCache struct {
	sb    *superblock
	bufs  *BufferCache
	table *table[inodeValue]
}

// NewInodeCache returns an empty inode cache.
func NewInodeCache(sb *superblock, bufs *BufferCache) *InodeCache {
	return &InodeCache{sb: sb, bufs: bufs, table: newTable[inodeValue](inodeCacheCapacity)}
}

// Get returns a handle on inum, bumping its external reference count. The
// handle is not yet loaded from disk; callers needing the disk_inode must
// call Lock, which lazily loads it on first access. Panics if the cache is
// full and no slot has zero external references, mirroring the fatal
// resource exhaustion of BufferCache.Get.
func (c *InodeCache) Get(inum uint32) *Handle {
	s, ok := c.table.get(inum, func(uint32) inodeValue { return inodeValue{} },
		func(*inodeValue) bool { return true })
	if !ok {
		fatalf("xv6fs: inode cache exhausted, no evictable inode for %d", inum)
	}
	return &Handle{cache: c, s: s}
}

// Release drops the caller's reference to h. h must not be used afterward.
// It does not itself check nlink or free the inode; that is
// Filesystem.MaybeRelease's job (spec.md §9 Design Notes), since doing it
// here would require taking a transaction inside a cache primitive.
func (c *InodeCache) Release(h *Handle) {
	c.table.release(h.s)
}

// LockedInode is a locked handle on one cached inode's disk_inode fields.
type LockedInode struct {
	h *Handle
	l locked[inodeValue]
}

// Lock locks h and loads its disk_inode from disk on first access.
func (c *InodeCache) Lock(h *Handle) *LockedInode {
	l := c.table.lock(h.s)
	if !l.get().state.isValid() {
		blk := c.bufs.Get(c.sb.iblock(h.Inum()))
		d := getDiskInode(blk.Data(), int(h.Inum())%inodesPerBlock)
		c.bufs.Release(blk)
		l.get().dinode = d
		l.get().state.setValid(true)
	}
	return &LockedInode{h: h, l: l}
}

// Disk returns a pointer to the locked inode's in-memory disk_inode.
func (li *LockedInode) Disk() *diskInode { return &li.l.get().dinode }

// Inum returns the inode number.
func (li *LockedInode) Inum() uint32 { return li.h.Inum() }

// Update writes the locked inode's current in-memory disk_inode back to its
// block in the buffer cache and logs that block as part of txn, per
// spec.md §4.5's Update operation.
func (li *LockedInode) Update(txn *Transaction) error {
	inum := li.h.Inum()
	sb := li.h.cache.sb
	blockno := sb.iblock(inum)

	blk := li.h.cache.bufs.Get(blockno)
	putDiskInode(blk.Data(), int(inum)%inodesPerBlock, &li.l.get().dinode)
	blk.MarkDirty()
	err := txn.Write(blockno)
	li.h.cache.bufs.Release(blk)
	return err
}

// Unlock releases the inode's own lock.
func (li *LockedInode) Unlock() { li.l.unlock() }

// Size reports the number of resident inode-cache entries, for tests.
func (c *InodeCache) Size() int { return c.table.size() }

// Reset drops every cached inode unconditionally. Used on mount and tests.
func (c *InodeCache) Reset() { c.table.reset() }
