package xv6fs

// nthBlock returns the disk block number holding the n-th block of li's
// data, allocating it (and, for n >= NDIRECT, the singly-indirect block)
// on first access. Mirrors spec.md §4.5's nth_block, including the
// MAXFILE boundary: n must be less than MAXFILE. txn may be nil, meaning
// "do not allocate" (used by ReadInode for a hole left by a sparse write);
// a nil txn on a missing block returns block number 0, which the caller
// must treat as an all-zero block rather than dereference.
func (fsys *Filesystem) nthBlock(li *LockedInode, n uint32, txn *Transaction) (uint32, error) {
	d := li.Disk()

	if n < NDIRECT {
		if d.Addrs[n] == 0 {
			if txn == nil {
				return 0, nil
			}
			bn, err := bitmapAlloc(&fsys.sb, fsys.bufs, txn)
			if err != nil {
				return 0, err
			}
			d.Addrs[n] = bn
		}
		return d.Addrs[n], nil
	}

	n -= NDIRECT
	if n >= NINDIRECT {
		return 0, ErrIO
	}

	if d.Addrs[NDIRECT] == 0 {
		if txn == nil {
			return 0, nil
		}
		bn, err := bitmapAlloc(&fsys.sb, fsys.bufs, txn)
		if err != nil {
			return 0, err
		}
		d.Addrs[NDIRECT] = bn
	}

	ib := fsys.bufs.Get(d.Addrs[NDIRECT])
	addr := readIndirect(ib.Data(), n)
	if addr == 0 && txn != nil {
		bn, err := bitmapAlloc(&fsys.sb, fsys.bufs, txn)
		if err != nil {
			fsys.bufs.Release(ib)
			return 0, err
		}
		writeIndirect(ib.Data(), n, bn)
		ib.MarkDirty()
		if err := txn.Write(d.Addrs[NDIRECT]); err != nil {
			fsys.bufs.Release(ib)
			return 0, err
		}
		addr = bn
	}
	fsys.bufs.Release(ib)
	return addr, nil
}

func readIndirect(b *Block, i uint32) uint32 {
	off := i * 4
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func writeIndirect(b *Block, i, v uint32) {
	off := i * 4
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

// ReadInode copies up to len(dst) bytes starting at offset from li's data
// into dst, returning the number of bytes read. Reads never extend past
// the inode's recorded size; a read starting exactly at the end returns 0,
// and one starting past the end returns ErrIO.
func (fsys *Filesystem) ReadInode(li *LockedInode, dst []byte, offset uint32) (int, error) {
	d := li.Disk()
	if offset > d.Size {
		return 0, ErrIO
	}
	n := uint32(len(dst))
	if offset+n > d.Size {
		n = d.Size - offset
	}

	var total uint32
	for total < n {
		blockIdx := (offset + total) / BSIZE
		blockOff := (offset + total) % BSIZE
		chunk := min32(n-total, BSIZE-blockOff)

		bn, err := fsys.nthBlock(li, blockIdx, nil)
		if err != nil {
			return int(total), err
		}
		if bn == 0 {
			// Hole left by a sparse write: reads as zeros.
			for i := uint32(0); i < chunk; i++ {
				dst[total+i] = 0
			}
			total += chunk
			continue
		}

		buf := fsys.bufs.Get(bn)
		copy(dst[total:total+chunk], buf.Data()[blockOff:blockOff+chunk])
		fsys.bufs.Release(buf)
		total += chunk
	}
	return int(total), nil
}

// min32 returns the smaller of a and b.
func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// WriteInode copies src into li's data starting at offset, allocating new
// blocks as needed through txn, growing Size if the write extends past the
// current end. Mirrors spec.md §4.5's Write, including the MAXFILESIZE
// boundary: a write that would push offset+len(src) past MAXFILESIZE
// returns ErrIO without partially applying.
func (fsys *Filesystem) WriteInode(li *LockedInode, txn *Transaction, src []byte, offset uint32) (int, error) {
	d := li.Disk()
	end := uint64(offset) + uint64(len(src))
	if end > MAXFILESIZE {
		return 0, ErrIO
	}

	var total uint32
	n := uint32(len(src))
	for total < n {
		blockIdx := (offset + total) / BSIZE
		blockOff := (offset + total) % BSIZE
		bn, err := fsys.nthBlock(li, blockIdx, txn)
		if err != nil {
			return int(total), err
		}
		buf := fsys.bufs.Get(bn)
		chunk := min32(n-total, BSIZE-blockOff)
		copy(buf.Data()[blockOff:blockOff+chunk], src[total:total+chunk])
		buf.MarkDirty()
		werr := txn.Write(bn)
		fsys.bufs.Release(buf)
		if werr != nil {
			return int(total), werr
		}
		total += chunk
	}

	if offset+total > d.Size {
		d.Size = offset + total
	}
	if err := li.Update(txn); err != nil {
		return int(total), err
	}
	return int(total), nil
}

// Truncate frees every data block owned by li and resets Size to 0, used
// when an unlinked inode's link count and reference count both reach zero.
func (fsys *Filesystem) Truncate(li *LockedInode, txn *Transaction) error {
	d := li.Disk()

	for i := 0; i < NDIRECT; i++ {
		if d.Addrs[i] != 0 {
			if err := bitmapFree(&fsys.sb, fsys.bufs, txn, d.Addrs[i]); err != nil {
				return err
			}
			d.Addrs[i] = 0
		}
	}

	if d.Addrs[NDIRECT] != 0 {
		ib := fsys.bufs.Get(d.Addrs[NDIRECT])
		for i := uint32(0); i < NINDIRECT; i++ {
			addr := readIndirect(ib.Data(), i)
			if addr != 0 {
				if err := bitmapFree(&fsys.sb, fsys.bufs, txn, addr); err != nil {
					fsys.bufs.Release(ib)
					return err
				}
			}
		}
		fsys.bufs.Release(ib)
		if err := bitmapFree(&fsys.sb, fsys.bufs, txn, d.Addrs[NDIRECT]); err != nil {
			return err
		}
		d.Addrs[NDIRECT] = 0
	}

	d.Size = 0
	return li.Update(txn)
}
