// Package xv6fs implements a small POSIX-like filesystem stored in a
// fixed-size block image, modeled after the xv6 on-disk layout. Mutations
// go through a write-ahead log that commits groups of writes atomically;
// reads and writes of block and inode state pass through bounded,
// reference-counted caches.
package xv6fs

import (
	"encoding/binary"
	"fmt"
)

// BSIZE is the size in bytes of every block on disk and in the caches.
const BSIZE = 512

// Block is one fixed-size unit of on-disk storage.
type Block = [BSIZE]byte

// On-disk geometry constants, bit-exact per the on-disk layout.
const (
	NDIRECT   = 12
	NINDIRECT = BSIZE / 4 // 4 == size of a u32 block pointer
	MAXFILE   = NDIRECT + NINDIRECT
	MAXFILESIZE = MAXFILE * BSIZE

	// ROOTINO is the reserved inode number of the root directory.
	ROOTINO = 1

	// DIRSIZ is the maximum length of a path component.
	DIRSIZ = 14

	// entrySize is the size in bytes of one packed directory entry.
	entrySize = 2 + DIRSIZ

	// LOGSIZE is the capacity, in blocks, of the write-ahead log.
	LOGSIZE = 64

	// MAXOPBLOCKS is the per-transaction block budget that Log.Begin
	// reserves when admitting a transaction; LOGSIZE/MAXOPBLOCKS bounds
	// the number of transactions that may be outstanding concurrently.
	// Transaction.Write does not count blocks per transaction: it rejects
	// a block only once the outstanding transactions together have logged
	// LOGSIZE-1 distinct blocks.
	MAXOPBLOCKS = 16

	// bitsPerBlock is the number of bitmap bits packed into one block.
	bitsPerBlock = BSIZE * 8
)

// FileType is the on-disk discriminant of an inode's kind.
type FileType uint16

const (
	TypeNone FileType = iota
	TypeDir
	TypeFile
)

func (t FileType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeDir:
		return "directory"
	case TypeFile:
		return "regular"
	default:
		return fmt.Sprintf("FileType(%d)", uint16(t))
	}
}

// Fixed attribute values exposed by spec.md since this filesystem has no
// concept of timestamps, permission bits beyond type, or multiple owners.
const (
	DirMode  = 0755
	FileMode = 0644
	FixedUID = 0
	FixedGID = 0
	// FixedTime is the sentinel modification/access/change time returned
	// for every inode; the on-disk format carries no timestamps at all.
	FixedTime = 42
)

// diskInode is the packed, little-endian on-disk inode record. Total size
// is 64 bytes, giving 8 inodes per block (inodesPerBlock).
type diskInode struct {
	Type   FileType
	unused1 uint16
	unused2 uint16
	NLink  uint16
	Size   uint32
	Addrs  [NDIRECT + 1]uint32
}

const diskInodeSize = 2 + 2 + 2 + 2 + 4 + (NDIRECT+1)*4 // == 64

const inodesPerBlock = BSIZE / diskInodeSize

func (d *diskInode) marshal() Block {
	var b Block
	binary.LittleEndian.PutUint16(b[0:2], uint16(d.Type))
	binary.LittleEndian.PutUint16(b[2:4], d.unused1)
	binary.LittleEndian.PutUint16(b[4:6], d.unused2)
	binary.LittleEndian.PutUint16(b[6:8], d.NLink)
	binary.LittleEndian.PutUint32(b[8:12], d.Size)
	off := 12
	for _, a := range d.Addrs {
		binary.LittleEndian.PutUint32(b[off:off+4], a)
		off += 4
	}
	return b
}

func unmarshalDiskInode(b []byte) diskInode {
	var d diskInode
	d.Type = FileType(binary.LittleEndian.Uint16(b[0:2]))
	d.unused1 = binary.LittleEndian.Uint16(b[2:4])
	d.unused2 = binary.LittleEndian.Uint16(b[4:6])
	d.NLink = binary.LittleEndian.Uint16(b[6:8])
	d.Size = binary.LittleEndian.Uint32(b[8:12])
	off := 12
	for i := range d.Addrs {
		d.Addrs[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	return d
}

// putDiskInode writes d into block's i-th slot (0-indexed within the block).
func putDiskInode(block *Block, i int, d *diskInode) {
	raw := d.marshal()
	copy(block[i*diskInodeSize:(i+1)*diskInodeSize], raw[:])
}

func getDiskInode(block *Block, i int) diskInode {
	return unmarshalDiskInode(block[i*diskInodeSize : (i+1)*diskInodeSize])
}

// dirent is the packed 16-byte directory entry: a 2-byte inode number
// (0 marks a free slot) followed by a 14-byte zero-padded name.
type dirent struct {
	Inum uint16
	Name [DIRSIZ]byte
}

func (e *dirent) marshal() []byte {
	b := make([]byte, entrySize)
	binary.LittleEndian.PutUint16(b[0:2], e.Inum)
	copy(b[2:], e.Name[:])
	return b
}

func unmarshalDirent(b []byte) dirent {
	var e dirent
	e.Inum = binary.LittleEndian.Uint16(b[0:2])
	copy(e.Name[:], b[2:2+DIRSIZ])
	return e
}

func (e *dirent) name() string {
	n := 0
	for n < len(e.Name) && e.Name[n] != 0 {
		n++
	}
	return string(e.Name[:n])
}

func direntName(name string) ([DIRSIZ]byte, error) {
	var out [DIRSIZ]byte
	if len(name) > DIRSIZ {
		return out, ErrNameTooLong
	}
	copy(out[:], name)
	return out, nil
}

// superblock is the immutable (after image creation) block-1 record
// describing the geometry of the rest of the image.
type superblock struct {
	NBlocks    uint32
	unused     uint32
	NInodes    uint32
	NLog       uint32
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
}

const superblockSize = 4 * 7

func (s *superblock) marshal() Block {
	var b Block
	binary.LittleEndian.PutUint32(b[0:4], s.NBlocks)
	binary.LittleEndian.PutUint32(b[4:8], s.unused)
	binary.LittleEndian.PutUint32(b[8:12], s.NInodes)
	binary.LittleEndian.PutUint32(b[12:16], s.NLog)
	binary.LittleEndian.PutUint32(b[16:20], s.LogStart)
	binary.LittleEndian.PutUint32(b[20:24], s.InodeStart)
	binary.LittleEndian.PutUint32(b[24:28], s.BmapStart)
	return b
}

func unmarshalSuperblock(b []byte) superblock {
	var s superblock
	s.NBlocks = binary.LittleEndian.Uint32(b[0:4])
	s.unused = binary.LittleEndian.Uint32(b[4:8])
	s.NInodes = binary.LittleEndian.Uint32(b[8:12])
	s.NLog = binary.LittleEndian.Uint32(b[12:16])
	s.LogStart = binary.LittleEndian.Uint32(b[16:20])
	s.InodeStart = binary.LittleEndian.Uint32(b[20:24])
	s.BmapStart = binary.LittleEndian.Uint32(b[24:28])
	return s
}

// iblock returns the block number of the inode table block holding inum.
func (s *superblock) iblock(inum uint32) uint32 {
	return s.InodeStart + inum/uint32(inodesPerBlock)
}

// bblock returns the block number of the bitmap block covering blockno.
func (s *superblock) bblock(blockno uint32) uint32 {
	return s.BmapStart + blockno/bitsPerBlock
}

// logHeader is the packed log-header record stored at LogStart.
type logHeader struct {
	N      uint32
	Blocks [LOGSIZE]uint32
}

func (h *logHeader) marshal() Block {
	var b Block
	binary.LittleEndian.PutUint32(b[0:4], h.N)
	off := 4
	for _, v := range h.Blocks {
		binary.LittleEndian.PutUint32(b[off:off+4], v)
		off += 4
	}
	return b
}

func unmarshalLogHeader(b []byte) logHeader {
	var h logHeader
	h.N = binary.LittleEndian.Uint32(b[0:4])
	off := 4
	for i := range h.Blocks {
		h.Blocks[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	return h
}

func init() {
	if superblockSize > BSIZE {
		panic("xv6fs: superblock does not fit in one block")
	}
	if diskInodeSize*inodesPerBlock > BSIZE {
		panic("xv6fs: inode table packing overflows a block")
	}
	var h logHeader
	if len(h.marshal()) != BSIZE {
		panic("xv6fs: log header must be exactly one block")
	}
}
