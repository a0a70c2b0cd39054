package xv6fs

// bitmapAlloc finds the first free block, marks it used, zeroes it, and
// logs both the bitmap block and the newly zeroed data block in txn, per
// spec.md §4.7. Returns ErrIO if the device has no free blocks.
func bitmapAlloc(sb *superblock, bufs *BufferCache, txn *Transaction) (uint32, error) {
	for b := uint32(0); b < sb.NBlocks; b += bitsPerBlock {
		bn := sb.bblock(b)
		buf := bufs.Get(bn)
		data := buf.Data()

		bit, found := firstZeroBit(data, b, sb.NBlocks)
		if !found {
			bufs.Release(buf)
			continue
		}

		setBit(data, bit-b, true)
		buf.MarkDirty()
		if err := txn.Write(bn); err != nil {
			bufs.Release(buf)
			return 0, err
		}
		bufs.Release(buf)

		if err := zeroBlock(sb, bufs, txn, bit); err != nil {
			return 0, err
		}
		return bit, nil
	}
	return 0, ErrIO
}

// bitmapFree clears blockno's bit and logs the bitmap block in txn, per
// spec.md §4.7.
func bitmapFree(sb *superblock, bufs *BufferCache, txn *Transaction, blockno uint32) error {
	bn := sb.bblock(blockno)
	buf := bufs.Get(bn)
	setBit(buf.Data(), blockno%bitsPerBlock, false)
	buf.MarkDirty()
	err := txn.Write(bn)
	bufs.Release(buf)
	return err
}

func zeroBlock(sb *superblock, bufs *BufferCache, txn *Transaction, blockno uint32) error {
	buf := bufs.Get(blockno)
	*buf.Data() = Block{}
	buf.MarkDirty()
	err := txn.Write(blockno)
	bufs.Release(buf)
	return err
}

// firstZeroBit scans one bitmap block's bits starting at absolute block
// number base, up to limit (exclusive), returning the first clear bit's
// absolute block number.
func firstZeroBit(data *Block, base, limit uint32) (blockno uint32, found bool) {
	for i := uint32(0); i < bitsPerBlock && base+i < limit; i++ {
		if !bitSet(data, i) {
			return base + i, true
		}
	}
	return 0, false
}

func bitSet(data *Block, i uint32) bool {
	return data[i/8]&(1<<(i%8)) != 0
}

func setBit(data *Block, i uint32, v bool) {
	if v {
		data[i/8] |= 1 << (i % 8)
	} else {
		data[i/8] &^= 1 << (i % 8)
	}
}
