package xv6fs

// Minimal POSIX mode bits needed to answer FUSE getattr/lookup requests.
// Based on: https://golang.org/src/os/stat_linux.go — this filesystem has
// no on-disk permission bits, so every regular file reports FileMode and
// every directory reports DirMode (see fs.go).
const (
	sIFMT = 0xf000
	sIFREG = 0x8000
	sIFDIR = 0x4000
)

// AttrMode returns the st_mode value FUSE should report for an inode of
// type t: the file-type bits plus the fixed permission bits of DirMode or
// FileMode.
func AttrMode(t FileType) uint32 {
	switch t {
	case TypeDir:
		return sIFDIR | DirMode
	case TypeFile:
		return sIFREG | FileMode
	default:
		return 0
	}
}
