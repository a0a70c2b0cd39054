package xv6fs

import "testing"

func newTestBitmapFS(t *testing.T, nblocks int) (*BufferCache, *Log, *superblock) {
	t.Helper()
	dev := newTestDevice(t, nblocks)
	bufs := NewBufferCache(dev)
	sb := &superblock{
		NBlocks:   uint32(nblocks),
		LogStart:  1,
		BmapStart: 1 + LOGSIZE,
	}
	l := NewLog(dev, bufs, sb)
	return bufs, l, sb
}

func TestBitmapAllocFree(t *testing.T) {
	bufs, l, sb := newTestBitmapFS(t, int(1+LOGSIZE+4))

	txn := l.Begin()
	bn, err := bitmapAlloc(sb, bufs, txn)
	if err != nil {
		t.Fatalf("bitmapAlloc: %v", err)
	}
	txn.End()

	buf := bufs.Get(sb.bblock(bn))
	if !bitSet(buf.Data(), bn%bitsPerBlock) {
		t.Fatalf("bit for block %d not set after alloc", bn)
	}
	bufs.Release(buf)

	txn = l.Begin()
	if err := bitmapFree(sb, bufs, txn, bn); err != nil {
		t.Fatalf("bitmapFree: %v", err)
	}
	txn.End()

	buf = bufs.Get(sb.bblock(bn))
	if bitSet(buf.Data(), bn%bitsPerBlock) {
		t.Fatalf("bit for block %d still set after free", bn)
	}
	bufs.Release(buf)
}

func TestBitmapAllocDistinctBlocks(t *testing.T) {
	bufs, l, sb := newTestBitmapFS(t, int(1+LOGSIZE+4))

	txn := l.Begin()
	a, err := bitmapAlloc(sb, bufs, txn)
	if err != nil {
		t.Fatalf("bitmapAlloc: %v", err)
	}
	b, err := bitmapAlloc(sb, bufs, txn)
	if err != nil {
		t.Fatalf("bitmapAlloc: %v", err)
	}
	txn.End()

	if a == b {
		t.Fatalf("bitmapAlloc returned the same block twice: %d", a)
	}
}
