package xv6fs

// Lookup scans directory dir's entries for name, returning the inode
// number it names. Returns ErrNotFound if absent, ErrNotDir if dir is not
// a directory, per spec.md §4.6.
func (fsys *Filesystem) Lookup(dir *LockedInode, name string) (uint32, error) {
	d := dir.Disk()
	if d.Type != TypeDir {
		return 0, ErrNotDir
	}

	nameBytes, err := direntName(name)
	if err != nil {
		return 0, err
	}

	var found uint32
	err = fsys.enumerateRaw(dir, func(e dirent) (stop bool) {
		if e.Inum != 0 && e.Name == nameBytes {
			found = uint32(e.Inum)
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, ErrNotFound
	}
	return found, nil
}

// Link writes a directory entry mapping name to inum into dir, reusing a
// free (zeroed-inum) slot if one exists or appending a new entry otherwise.
// Returns ErrExist if name is already present, per spec.md §4.6.
func (fsys *Filesystem) Link(dir *LockedInode, txn *Transaction, name string, inum uint32) error {
	d := dir.Disk()
	if d.Type != TypeDir {
		return ErrNotDir
	}

	nameBytes, err := direntName(name)
	if err != nil {
		return err
	}

	var freeOffset uint32 = d.Size
	haveFree := false

	count := d.Size / entrySize
	for i := uint32(0); i < count; i++ {
		off := i * entrySize
		e, err := fsys.readDirent(dir, off)
		if err != nil {
			return err
		}
		if e.Inum == 0 {
			if !haveFree {
				freeOffset = off
				haveFree = true
			}
			continue
		}
		if e.Name == nameBytes {
			return ErrExist
		}
	}

	e := dirent{Inum: uint16(inum), Name: nameBytes}
	_, err = fsys.WriteInode(dir, txn, e.marshal(), freeOffset)
	return err
}

// Unlink zeroes the directory entry named name, freeing its slot for
// reuse by a future Link. Returns ErrNotFound if name is absent.
func (fsys *Filesystem) Unlink(dir *LockedInode, txn *Transaction, name string) error {
	nameBytes, err := direntName(name)
	if err != nil {
		return err
	}

	d := dir.Disk()
	count := d.Size / entrySize
	for i := uint32(0); i < count; i++ {
		off := i * entrySize
		e, err := fsys.readDirent(dir, off)
		if err != nil {
			return err
		}
		if e.Inum != 0 && e.Name == nameBytes {
			zero := dirent{}
			_, err := fsys.WriteInode(dir, txn, zero.marshal(), off)
			return err
		}
	}
	return ErrNotFound
}

// DirEntry is one live (non-free) entry surfaced by Enumerate.
type DirEntry struct {
	Name string
	Inum uint32
}

// Enumerate lists every live entry of directory dir, in on-disk order,
// per spec.md §4.6.
func (fsys *Filesystem) Enumerate(dir *LockedInode) ([]DirEntry, error) {
	if dir.Disk().Type != TypeDir {
		return nil, ErrNotDir
	}
	var out []DirEntry
	err := fsys.enumerateRaw(dir, func(e dirent) bool {
		if e.Inum != 0 {
			out = append(out, DirEntry{Name: e.name(), Inum: uint32(e.Inum)})
		}
		return false
	})
	return out, err
}

// IsEmpty reports whether dir contains only "." and "..", per spec.md
// §4.6's precondition for rmdir.
func (fsys *Filesystem) IsEmpty(dir *LockedInode) (bool, error) {
	empty := true
	err := fsys.enumerateRaw(dir, func(e dirent) bool {
		if e.Inum == 0 {
			return false
		}
		n := e.name()
		if n != "." && n != ".." {
			empty = false
			return true
		}
		return false
	})
	return empty, err
}

// Mkdir allocates a fresh inode of type TypeDir, links it into parent under
// name, and writes its "." and ".." entries, per spec.md §4.6. Returns the
// new inode number.
func (fsys *Filesystem) Mkdir(parent *LockedInode, txn *Transaction, name string) (uint32, error) {
	inum, err := fsys.ialloc(txn, TypeDir)
	if err != nil {
		return 0, err
	}

	h := fsys.icache.Get(inum)
	li := fsys.icache.Lock(h)
	li.Disk().NLink = 2 // "." plus the parent's link to it
	if err := li.Update(txn); err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		return 0, err
	}

	if err := fsys.Link(li, txn, ".", inum); err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		return 0, err
	}
	if err := fsys.Link(li, txn, "..", parent.Inum()); err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		return 0, err
	}
	li.Unlock()
	fsys.icache.Release(h)

	if err := fsys.Link(parent, txn, name, inum); err != nil {
		return 0, err
	}
	parent.Disk().NLink++
	if err := parent.Update(txn); err != nil {
		return 0, err
	}
	return inum, nil
}

func (fsys *Filesystem) readDirent(dir *LockedInode, offset uint32) (dirent, error) {
	var raw [entrySize]byte
	n, err := fsys.ReadInode(dir, raw[:], offset)
	if err != nil {
		return dirent{}, err
	}
	if n < entrySize {
		return dirent{}, nil
	}
	return unmarshalDirent(raw[:]), nil
}

// enumerateRaw walks every entry slot (live or free) of dir, calling fn for
// each; fn returns true to stop early.
func (fsys *Filesystem) enumerateRaw(dir *LockedInode, fn func(dirent) bool) error {
	count := dir.Disk().Size / entrySize
	for i := uint32(0); i < count; i++ {
		e, err := fsys.readDirent(dir, i*entrySize)
		if err != nil {
			return err
		}
		if fn(e) {
			return nil
		}
	}
	return nil
}
