package xv6fs

import "fmt"

// Filesystem ties together the block device, buffer cache, write-ahead
// log, inode cache and superblock into the mounted filesystem spec.md §2
// describes. It is the entry point the FUSE adapter and cmd/mkfs drive.
type Filesystem struct {
	dev    *Device
	bufs   *BufferCache
	log    *Log
	icache *InodeCache
	sb     superblock
}

// Mount loads the image at path, reads its superblock, and recovers any
// pending transaction left in the log. The returned Filesystem is ready
// for concurrent use.
func Mount(path string) (*Filesystem, error) {
	dev := NewDevice()
	if err := dev.Load(path); err != nil {
		return nil, err
	}
	return mountDevice(dev)
}

// MountMemory mounts an already-populated in-memory image.
func MountMemory(blocks []Block) (*Filesystem, error) {
	dev := NewDevice()
	dev.Mount(blocks)
	return mountDevice(dev)
}

func mountDevice(dev *Device) (*Filesystem, error) {
	bufs := NewBufferCache(dev)

	sbBuf := bufs.Get(1)
	sb := unmarshalSuperblock(sbBuf.Data()[:])
	bufs.Release(sbBuf)

	if sb.InodeStart == 0 || sb.BmapStart == 0 || sb.LogStart == 0 {
		return nil, fmt.Errorf("xv6fs: mount: image has an unpopulated superblock")
	}

	icache := NewInodeCache(&sb, bufs)
	fsys := &Filesystem{dev: dev, bufs: bufs, icache: icache, sb: sb}
	fsys.log = NewLog(dev, bufs, &fsys.sb)
	return fsys, nil
}

// Begin starts a new transaction against fsys's log. Every mutating
// operation (Link, Unlink, WriteInode, Mkdir, Truncate, ialloc, and the
// bitmap helpers) must run inside one.
func (fsys *Filesystem) Begin() *Transaction { return fsys.log.Begin() }

// Root returns a handle on the root directory inode.
func (fsys *Filesystem) Root() *Handle { return fsys.icache.Get(ROOTINO) }

// GetInode returns a handle on inum, bumping its external reference count.
func (fsys *Filesystem) GetInode(inum uint32) *Handle { return fsys.icache.Get(inum) }

// LockInode locks h, loading its disk_inode from disk on first access.
func (fsys *Filesystem) LockInode(h *Handle) *LockedInode { return fsys.icache.Lock(h) }

// ReleaseInode drops the caller's reference to h.
func (fsys *Filesystem) ReleaseInode(h *Handle) { fsys.icache.Release(h) }

// MaybeRelease drops the caller's reference to h and, if that was the last
// external reference and the inode's on-disk link count has reached zero,
// truncates and frees it within its own nested transaction. This is the
// explicit stand-in spec.md §9's Design Notes call for in place of a
// destructor, which in Go would have no way to signal failure or take a
// transaction.
func (fsys *Filesystem) MaybeRelease(h *Handle) error {
	li := fsys.icache.Lock(h)
	nlink := li.Disk().NLink
	li.Unlock()

	fsys.icache.Release(h)

	t := fsys.icache.table
	t.mu.Lock()
	last := h.s.refs == 0
	t.mu.Unlock()

	if nlink != 0 || !last {
		return nil
	}

	txn := fsys.Begin()
	defer txn.End()

	li = fsys.icache.Lock(h)
	defer li.Unlock()
	if li.Disk().NLink != 0 {
		return nil
	}
	if err := fsys.Truncate(li, txn); err != nil {
		return err
	}
	li.Disk().Type = TypeNone
	err := li.Update(txn)
	// Drop the in-memory copy so the next Lock reloads the inode from its
	// block, where a later ialloc records the type it assigns.
	li.l.get().state.setValid(false)
	return err
}

// ialloc scans the inode table for the first inode of type TypeNone,
// marks it typ, and logs its block in txn, per spec.md §4.5's allocation
// path. Inode 0 is never allocated (reserved, matching xv6's convention);
// ROOTINO is preallocated by mkfs and never revisited here.
func (fsys *Filesystem) ialloc(txn *Transaction, typ FileType) (uint32, error) {
	for inum := uint32(1); inum < fsys.sb.NInodes; inum++ {
		blockno := fsys.sb.iblock(inum)
		buf := fsys.bufs.Get(blockno)
		d := getDiskInode(buf.Data(), int(inum)%inodesPerBlock)
		if d.Type != TypeNone {
			fsys.bufs.Release(buf)
			continue
		}

		d.Type = typ
		putDiskInode(buf.Data(), int(inum)%inodesPerBlock, &d)
		buf.MarkDirty()
		err := txn.Write(blockno)
		fsys.bufs.Release(buf)
		if err != nil {
			return 0, err
		}
		return inum, nil
	}
	return 0, ErrIO
}

// Superblock returns a copy of the mounted filesystem's geometry, mainly
// for use by tests.
func (fsys *Filesystem) Superblock() (nblocks, ninodes, nlog uint32) {
	return fsys.sb.NBlocks, fsys.sb.NInodes, fsys.sb.NLog
}
