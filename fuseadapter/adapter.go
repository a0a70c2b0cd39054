// Package fuseadapter exposes a mounted xv6fs.Filesystem as a FUSE
// filesystem, built on github.com/hanwen/go-fuse/v2/fs. Each exported node
// type embeds fs.Inode the way the library expects and forwards the
// handful of operations spec.md's external interface names onto the core
// package; everything else (timestamps, xattrs, symlinks) is intentionally
// unimplemented because the on-disk format has no room for it.
package fuseadapter

import (
	"context"
	"log"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sync/semaphore"

	"github.com/tinyfs/xv6fs"
)

// pool bounds the number of mutating operations (each of which opens its
// own write-ahead-log transaction) active at once, mirroring the bounded
// worker pool the original daemon dispatched FUSE requests through. Sizing
// it to the log's maximum concurrent transaction count keeps every
// admitted request able to make progress instead of piling up behind
// Log.Begin's admission wait.
type pool struct {
	sem *semaphore.Weighted
}

func newPool(size int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *pool) execute(fn func() syscall.Errno) syscall.Errno {
	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return syscall.EINTR
	}
	defer p.sem.Release(1)
	return fn()
}

// Root constructs the FUSE root node for fsys, ready to pass to fs.Mount.
func Root(fsys *xv6fs.Filesystem) fs.InodeEmbedder {
	return &node{
		fsys:  fsys,
		pool:  newPool(xv6fs.LOGSIZE / xv6fs.MAXOPBLOCKS),
		inode: xv6fs.ROOTINO,
	}
}

// node is one FUSE-visible inode: a thin wrapper translating FUSE
// operations into xv6fs core calls for a single inode number. fs.Inode's
// own bookkeeping (lookup counts, the node tree) is left to the library;
// node only needs to remember which on-disk inode it represents.
type node struct {
	fs.Inode

	fsys  *xv6fs.Filesystem
	pool  *pool
	inode uint32
}

var (
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReader    = (*node)(nil)
	_ fs.NodeWriter    = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
)

// recoverErrno translates a panic from the core package (spec.md §7's
// fatal conditions: cache exhaustion, impossible on-disk state, log
// overflow during recovery) into EIO instead of letting it unwind out of
// the FUSE dispatch goroutine and take the rest of the mount down with it.
func recoverErrno(errno *syscall.Errno) {
	if r := recover(); r != nil {
		log.Printf("xv6fs: fatal error recovered at FUSE boundary: %v", r)
		*errno = syscall.EIO
	}
}

func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return fs.OK
	case err == xv6fs.ErrNotFound:
		return syscall.ENOENT
	case err == xv6fs.ErrExist:
		return syscall.EEXIST
	case err == xv6fs.ErrIsDir:
		return syscall.EISDIR
	case err == xv6fs.ErrNotDir:
		return syscall.ENOTDIR
	case err == xv6fs.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case err == xv6fs.ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case err == xv6fs.ErrTxnFull, err == xv6fs.ErrIO:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

func (n *node) child(inum uint32) *node {
	return &node{fsys: n.fsys, pool: n.pool, inode: inum}
}

func (n *node) fillAttr(out *fuse.Attr, typ xv6fs.FileType, size uint64) {
	out.Ino = uint64(n.inode)
	out.Size = size
	out.Mode = xv6fs.AttrMode(typ)
	out.Uid = xv6fs.FixedUID
	out.Gid = xv6fs.FixedGID
	out.Atime = xv6fs.FixedTime
	out.Mtime = xv6fs.FixedTime
	out.Ctime = xv6fs.FixedTime
}

// Lookup implements fs.NodeLookuper: resolve name within the directory n
// represents, per spec.md §6's lookup operation.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var errno syscall.Errno
	defer recoverErrno(&errno)

	h := n.fsys.GetInode(n.inode)
	li := n.fsys.LockInode(h)
	inum, err := n.fsys.Lookup(li, name)
	li.Unlock()
	n.fsys.ReleaseInode(h)
	if err != nil {
		return nil, errnoFor(err)
	}

	childH := n.fsys.GetInode(inum)
	childLI := n.fsys.LockInode(childH)
	typ := childLI.Disk().Type
	size := uint64(childLI.Disk().Size)
	childLI.Unlock()
	n.fsys.ReleaseInode(childH)

	child := n.child(inum)
	n.fillAttr(&out.Attr, typ, size)
	mode := xv6fs.AttrMode(typ)
	stable := fs.StableAttr{Mode: mode, Ino: uint64(inum)}
	return n.NewInode(ctx, child, stable), fs.OK
}

// Getattr implements fs.NodeGetattrer: report the fixed attributes spec.md
// §6 defines (no timestamps or permission bits beyond type).
func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	var errno syscall.Errno
	defer recoverErrno(&errno)

	h := n.fsys.GetInode(n.inode)
	li := n.fsys.LockInode(h)
	typ := li.Disk().Type
	size := uint64(li.Disk().Size)
	li.Unlock()
	n.fsys.ReleaseInode(h)

	n.fillAttr(&out.Attr, typ, size)
	return fs.OK
}

// Setattr implements fs.NodeSetattrer as a no-op that merely echoes back
// the current attributes: spec.md's open question on setattr/truncate-via-size
// resolves to leaving size changes unapplied; a request to change the size
// reports the unchanged current size.
func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return n.Getattr(ctx, f, out)
}

type dirStream struct {
	entries []xv6fs.DirEntry
	pos     int
	self    uint32
	parent  uint32
}

func (s *dirStream) HasNext() bool { return s.pos < len(s.entries)+2 }

func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	switch s.pos {
	case 0:
		s.pos++
		return fuse.DirEntry{Name: ".", Ino: uint64(s.self), Mode: xv6fs.AttrMode(xv6fs.TypeDir)}, fs.OK
	case 1:
		s.pos++
		return fuse.DirEntry{Name: "..", Ino: uint64(s.parent), Mode: xv6fs.AttrMode(xv6fs.TypeDir)}, fs.OK
	default:
		e := s.entries[s.pos-2]
		s.pos++
		return fuse.DirEntry{Name: e.Name, Ino: uint64(e.Inum)}, fs.OK
	}
}

func (s *dirStream) Close() {}

// Readdir implements fs.NodeReaddirer, filtering out the "." and ".."
// entries that the core's Enumerate returns along with the rest (see
// dir.go) and resynthesizing them the way the teacher's own readdir loop
// does.
func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var errno syscall.Errno
	defer recoverErrno(&errno)

	h := n.fsys.GetInode(n.inode)
	li := n.fsys.LockInode(h)
	entries, err := n.fsys.Enumerate(li)
	var parent uint32 = n.inode
	for _, e := range entries {
		if e.Name == ".." {
			parent = e.Inum
		}
	}
	li.Unlock()
	n.fsys.ReleaseInode(h)
	if err != nil {
		return nil, errnoFor(err)
	}

	var filtered []xv6fs.DirEntry
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			filtered = append(filtered, e)
		}
	}
	return &dirStream{entries: filtered, self: n.inode, parent: parent}, fs.OK
}

// Open implements fs.NodeOpener. Every Read and Write looks the inode up
// afresh through the core caches, so there is no per-open state to track.
func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

// Read implements fs.NodeReader.
func (n *node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	var errno syscall.Errno
	defer recoverErrno(&errno)

	h := n.fsys.GetInode(n.inode)
	li := n.fsys.LockInode(h)
	count, err := n.fsys.ReadInode(li, dest, uint32(off))
	li.Unlock()
	n.fsys.ReleaseInode(h)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:count]), fs.OK
}

// Write implements fs.NodeWriter. The whole call runs inside one
// transaction, per SPEC_FULL.md §5, so the write and any size-growth
// update to the inode commit together.
func (n *node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	var written uint32
	errno := n.pool.execute(func() syscall.Errno {
		var errno syscall.Errno
		defer recoverErrno(&errno)

		txn := n.fsys.Begin()
		defer txn.End()

		h := n.fsys.GetInode(n.inode)
		li := n.fsys.LockInode(h)
		count, err := n.fsys.WriteInode(li, txn, data, uint32(off))
		li.Unlock()
		if relErr := n.fsys.MaybeRelease(h); err == nil {
			err = relErr
		}
		written = uint32(count)
		return errnoFor(err)
	})
	return written, errno
}

// Mkdir implements fs.NodeMkdirer, per spec.md §6.
func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var child *fs.Inode
	errno := n.pool.execute(func() syscall.Errno {
		var errno syscall.Errno
		defer recoverErrno(&errno)

		txn := n.fsys.Begin()
		defer txn.End()

		h := n.fsys.GetInode(n.inode)
		li := n.fsys.LockInode(h)
		inum, err := n.fsys.Mkdir(li, txn, name)
		li.Unlock()
		if relErr := n.fsys.MaybeRelease(h); err == nil {
			err = relErr
		}
		if err != nil {
			return errnoFor(err)
		}

		n.fillAttr(&out.Attr, xv6fs.TypeDir, 0)
		newNode := n.child(inum)
		child = n.NewInode(ctx, newNode, fs.StableAttr{Mode: xv6fs.AttrMode(xv6fs.TypeDir), Ino: uint64(inum)})
		return fs.OK
	})
	return child, errno
}

// Create implements fs.NodeCreater: allocate a regular-file inode and link
// it into the directory n represents, per spec.md §6.
func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	var child *fs.Inode
	errno := n.pool.execute(func() syscall.Errno {
		var errno syscall.Errno
		defer recoverErrno(&errno)

		txn := n.fsys.Begin()
		defer txn.End()

		h := n.fsys.GetInode(n.inode)
		li := n.fsys.LockInode(h)
		inum, err := n.fsys.CreateFile(li, txn, name)
		li.Unlock()
		if relErr := n.fsys.MaybeRelease(h); err == nil {
			err = relErr
		}
		if err != nil {
			return errnoFor(err)
		}

		n.fillAttr(&out.Attr, xv6fs.TypeFile, 0)
		newNode := n.child(inum)
		child = n.NewInode(ctx, newNode, fs.StableAttr{Mode: xv6fs.AttrMode(xv6fs.TypeFile), Ino: uint64(inum)})
		return fs.OK
	})
	return child, nil, 0, errno
}

// Unlink implements fs.NodeUnlinker, per spec.md §6.
func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.pool.execute(func() syscall.Errno {
		var errno syscall.Errno
		defer recoverErrno(&errno)

		txn := n.fsys.Begin()
		defer txn.End()

		h := n.fsys.GetInode(n.inode)
		li := n.fsys.LockInode(h)
		err := n.fsys.UnlinkFile(li, txn, name)
		li.Unlock()
		if relErr := n.fsys.MaybeRelease(h); err == nil {
			err = relErr
		}
		return errnoFor(err)
	})
}

// Rmdir implements fs.NodeRmdirer, per spec.md §6.
func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.pool.execute(func() syscall.Errno {
		var errno syscall.Errno
		defer recoverErrno(&errno)

		txn := n.fsys.Begin()
		defer txn.End()

		h := n.fsys.GetInode(n.inode)
		li := n.fsys.LockInode(h)
		err := n.fsys.RmdirEntry(li, txn, name)
		li.Unlock()
		if relErr := n.fsys.MaybeRelease(h); err == nil {
			err = relErr
		}
		return errnoFor(err)
	})
}

// Rename implements fs.NodeRenamer. spec.md's open question on rename
// resolves to ENOSYS: the directory layer has no atomic move primitive
// (only link+unlink, which cannot be made crash-atomic across two
// directories within one transaction budget), so rather than fake a
// non-atomic rename the adapter refuses it outright.
func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.ENOSYS
}
