package xv6fs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

// bitmapSnapshot reads every allocation bit in [0, NBlocks) into a plain
// slice, so two points in time can be compared with pretty.Compare instead
// of hand-rolled byte-by-byte diffing.
func bitmapSnapshot(fsys *Filesystem) []bool {
	bits := make([]bool, fsys.sb.NBlocks)
	for b := uint32(0); b < fsys.sb.NBlocks; b += bitsPerBlock {
		buf := fsys.bufs.Get(fsys.sb.bblock(b))
		data := buf.Data()
		for i := uint32(0); i < bitsPerBlock && b+i < fsys.sb.NBlocks; i++ {
			bits[b+i] = bitSet(data, i)
		}
		fsys.bufs.Release(buf)
	}
	return bits
}

func buildTestImage(t *testing.T) *Filesystem {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "image")
	if err := BuildImage(path, 512, 64); err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	fsys, err := Mount(path)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fsys
}

func TestBuildImageAndMount(t *testing.T) {
	fsys := buildTestImage(t)

	h := fsys.Root()
	li := fsys.LockInode(h)
	defer li.Unlock()
	defer fsys.ReleaseInode(h)

	if li.Disk().Type != TypeDir {
		t.Fatalf("root type = %v, want directory", li.Disk().Type)
	}
	if li.Disk().NLink != 2 {
		t.Fatalf("root nlink = %d, want 2", li.Disk().NLink)
	}

	entries, err := fsys.Enumerate(li)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	want := []DirEntry{{Name: ".", Inum: ROOTINO}, {Name: "..", Inum: ROOTINO}}
	if diff := pretty.Compare(entries, want); diff != "" {
		t.Fatalf("root entries mismatch (-got +want):\n%s", diff)
	}
}

func TestCreateWriteReadFile(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	inum, err := fsys.CreateFile(rootLI, txn, "hello.txt")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	payload := []byte("hello, xv6fs")
	txn = fsys.Begin()
	h := fsys.GetInode(inum)
	li := fsys.LockInode(h)
	n, err := fsys.WriteInode(li, txn, payload, 0)
	li.Unlock()
	txn.End()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("WriteInode: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", n, len(payload))
	}

	h = fsys.GetInode(inum)
	li = fsys.LockInode(h)
	got := make([]byte, len(payload))
	rn, err := fsys.ReadInode(li, got, 0)
	li.Unlock()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("ReadInode: %v", err)
	}
	if rn != len(payload) || !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got[:rn], payload)
	}
}

func TestLookupAfterCreate(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	inum, err := fsys.CreateFile(rootLI, txn, "a")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	found, err := fsys.Lookup(rootLI, "a")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)

	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found != inum {
		t.Fatalf("Lookup returned %d, want %d", found, inum)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	if _, err := fsys.CreateFile(rootLI, txn, "dup"); err != nil {
		t.Fatalf("first CreateFile: %v", err)
	}
	_, err := fsys.CreateFile(rootLI, txn, "dup")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)

	if err != ErrExist {
		t.Fatalf("got %v, want ErrExist", err)
	}
}

func TestMkdirAndRmdir(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	inum, err := fsys.Mkdir(rootLI, txn, "sub")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	h := fsys.GetInode(inum)
	li := fsys.LockInode(h)
	empty, err := fsys.IsEmpty(li)
	li.Unlock()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("new directory is not empty")
	}

	txn = fsys.Begin()
	root = fsys.Root()
	rootLI = fsys.LockInode(root)
	err = fsys.RmdirEntry(rootLI, txn, "sub")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("RmdirEntry: %v", err)
	}
}

func TestUnlinkDirectoryFails(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	_, err := fsys.Mkdir(rootLI, txn, "sub")
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	err = fsys.UnlinkFile(rootLI, txn, "sub")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)

	if err != ErrIsDir {
		t.Fatalf("got %v, want ErrIsDir", err)
	}
}

func TestRmdirNonEmptyFails(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	subInum, err := fsys.Mkdir(rootLI, txn, "sub")
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	rootLI.Unlock()
	txn.End()

	txn = fsys.Begin()
	subH := fsys.GetInode(subInum)
	subLI := fsys.LockInode(subH)
	_, err = fsys.CreateFile(subLI, txn, "child")
	subLI.Unlock()
	txn.End()
	fsys.ReleaseInode(subH)
	if err != nil {
		t.Fatalf("CreateFile in sub: %v", err)
	}

	txn = fsys.Begin()
	rootLI = fsys.LockInode(root)
	err = fsys.RmdirEntry(rootLI, txn, "sub")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)

	if err != ErrNotEmpty {
		t.Fatalf("got %v, want ErrNotEmpty", err)
	}
}

// TestBitmapReturnsToBaselineAfterCreateUnlinkMkdirRmdir is scenario 3 of
// spec.md §8: mkdir, create, unlink, rmdir all succeed, and the bitmap ends
// up exactly as it started.
func TestBitmapReturnsToBaselineAfterCreateUnlinkMkdirRmdir(t *testing.T) {
	fsys := buildTestImage(t)
	baseline := bitmapSnapshot(fsys)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	dInum, err := fsys.Mkdir(rootLI, txn, "d")
	rootLI.Unlock()
	txn.End()
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	txn = fsys.Begin()
	dH := fsys.GetInode(dInum)
	dLI := fsys.LockInode(dH)
	_, err = fsys.CreateFile(dLI, txn, "f")
	dLI.Unlock()
	txn.End()
	if err != nil {
		fsys.ReleaseInode(dH)
		t.Fatalf("CreateFile: %v", err)
	}

	txn = fsys.Begin()
	dLI = fsys.LockInode(dH)
	err = fsys.UnlinkFile(dLI, txn, "f")
	dLI.Unlock()
	txn.End()
	fsys.ReleaseInode(dH)
	if err != nil {
		t.Fatalf("UnlinkFile: %v", err)
	}

	txn = fsys.Begin()
	rootLI = fsys.LockInode(root)
	err = fsys.RmdirEntry(rootLI, txn, "d")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("RmdirEntry: %v", err)
	}

	got := bitmapSnapshot(fsys)
	if diff := pretty.Compare(got, baseline); diff != "" {
		t.Fatalf("bitmap did not return to baseline (-got +want):\n%s", diff)
	}
}

func TestWriteAcrossIndirectBoundary(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	inum, err := fsys.CreateFile(rootLI, txn, "big")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	offset := uint32(NDIRECT)*BSIZE - 4
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}

	txn = fsys.Begin()
	h := fsys.GetInode(inum)
	li := fsys.LockInode(h)
	n, err := fsys.WriteInode(li, txn, payload, offset)
	li.Unlock()
	txn.End()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("WriteInode across boundary: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d, want %d", n, len(payload))
	}

	h = fsys.GetInode(inum)
	li = fsys.LockInode(h)
	got := make([]byte, len(payload))
	_, err = fsys.ReadInode(li, got, offset)
	li.Unlock()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("ReadInode across boundary: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %v, want %v", got, payload)
	}
}

func TestReadHoleFromSparseWrite(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	inum, err := fsys.CreateFile(rootLI, txn, "sparse")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Write starting well past offset 0: blocks covering [0, offset) are
	// never allocated, leaving a hole.
	offset := uint32(3) * BSIZE
	payload := []byte("after the hole")

	txn = fsys.Begin()
	h := fsys.GetInode(inum)
	li := fsys.LockInode(h)
	_, err = fsys.WriteInode(li, txn, payload, offset)
	li.Unlock()
	txn.End()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("WriteInode: %v", err)
	}

	h = fsys.GetInode(inum)
	li = fsys.LockInode(h)
	got := make([]byte, offset)
	_, err = fsys.ReadInode(li, got, 0)
	li.Unlock()
	fsys.ReleaseInode(h)
	if err != nil {
		t.Fatalf("ReadInode over hole: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d of hole = %d, want 0", i, b)
		}
	}
}

func TestWriteBeyondMaxFileSizeFails(t *testing.T) {
	fsys := buildTestImage(t)

	txn := fsys.Begin()
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	inum, err := fsys.CreateFile(rootLI, txn, "huge")
	rootLI.Unlock()
	txn.End()
	fsys.ReleaseInode(root)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	txn = fsys.Begin()
	h := fsys.GetInode(inum)
	li := fsys.LockInode(h)
	_, err = fsys.WriteInode(li, txn, []byte("x"), MAXFILESIZE)
	li.Unlock()
	txn.End()
	fsys.ReleaseInode(h)

	if err != ErrIO {
		t.Fatalf("got %v, want ErrIO", err)
	}
}

func TestMountReportsBuiltImageGeometry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image")
	if err := BuildImage(path, 512, 64); err != nil {
		t.Fatalf("BuildImage: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size()%BSIZE != 0 {
		t.Fatalf("image size %d is not block-aligned", info.Size())
	}

	fsys, err := Mount(path)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	root := fsys.Root()
	rootLI := fsys.LockInode(root)
	nblocks, ninodes, nlog := fsys.Superblock()
	rootLI.Unlock()
	fsys.ReleaseInode(root)

	if nblocks != 512 || ninodes != 64 || nlog != LOGSIZE {
		t.Fatalf("geometry = (%d,%d,%d), want (512,64,%d)", nblocks, ninodes, nlog, LOGSIZE)
	}
}
