package xv6fs

import (
	"fmt"
	"os"
)

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// BuildImage creates a fresh, empty filesystem image of nblocks blocks
// with room for ninodes inodes, and writes it to path. It lays out the
// metadata region (boot block, superblock, log, inode table, bitmap)
// exactly as spec.md §4.8 describes, pre-marks those metadata blocks used
// in the bitmap, then mounts the image in memory and uses the ordinary
// ialloc and Link machinery to create the root directory's "." and ".."
// entries —
// the same code path a running daemon would use, so the image a fresh
// mount produces is provably one BuildImage could have produced itself.
func BuildImage(path string, nblocks, ninodes uint32) error {
	nlog := uint32(LOGSIZE)
	ninodeblocks := ceilDiv(ninodes, uint32(inodesPerBlock))
	nbitmapblocks := ceilDiv(nblocks, uint32(bitsPerBlock))
	nmeta := 2 + nlog + ninodeblocks + nbitmapblocks

	if nmeta+1 > nblocks {
		return fmt.Errorf("xv6fs: mkfs: %d blocks is too small to hold %d metadata blocks plus the root directory's data block", nblocks, nmeta)
	}

	sb := superblock{
		NBlocks:    nblocks,
		NInodes:    ninodes,
		NLog:       nlog,
		LogStart:   2,
		InodeStart: 2 + nlog,
		BmapStart:  2 + nlog + ninodeblocks,
	}

	blocks := make([]Block, nblocks)
	blocks[1] = sb.marshal()

	for b := uint32(0); b < nmeta; b++ {
		bn := sb.bblock(b)
		setBit(&blocks[bn], b%bitsPerBlock, true)
	}

	fsys := &Filesystem{
		dev:    NewDevice(),
		bufs:   nil,
		icache: nil,
		sb:     sb,
	}
	fsys.dev.Mount(blocks)
	fsys.bufs = NewBufferCache(fsys.dev)
	fsys.icache = NewInodeCache(&fsys.sb, fsys.bufs)
	fsys.log = NewLog(fsys.dev, fsys.bufs, &fsys.sb)

	txn := fsys.Begin()
	inum, err := fsys.ialloc(txn, TypeDir)
	if err != nil {
		txn.End()
		return fmt.Errorf("xv6fs: mkfs: allocating root inode: %w", err)
	}
	if inum != ROOTINO {
		txn.End()
		return fmt.Errorf("xv6fs: mkfs: root inode allocated as %d, want %d", inum, ROOTINO)
	}

	h := fsys.icache.Get(inum)
	li := fsys.icache.Lock(h)
	li.Disk().NLink = 1
	if err := li.Update(txn); err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		txn.End()
		return fmt.Errorf("xv6fs: mkfs: initializing root inode: %w", err)
	}
	if err := fsys.Link(li, txn, ".", inum); err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		txn.End()
		return fmt.Errorf("xv6fs: mkfs: linking root '.': %w", err)
	}
	if err := fsys.Link(li, txn, "..", inum); err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		txn.End()
		return fmt.Errorf("xv6fs: mkfs: linking root '..': %w", err)
	}
	li.Disk().NLink = 2
	err = li.Update(txn)
	li.Unlock()
	fsys.icache.Release(h)
	if err != nil {
		txn.End()
		return fmt.Errorf("xv6fs: mkfs: finalizing root inode: %w", err)
	}

	txn.End()

	return writeImage(path, blocks)
}

func writeImage(path string, blocks []Block) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("xv6fs: mkfs: %w", err)
	}
	defer f.Close()

	for i, b := range blocks {
		if _, err := f.Write(b[:]); err != nil {
			return fmt.Errorf("xv6fs: mkfs: writing block %d: %w", i, err)
		}
	}
	return nil
}
