package xv6fs

// CreateFile allocates a regular-file inode with NLink 1 and links it into
// parent under name, per spec.md §6's create operation. Returns ErrExist
// if name is already present.
func (fsys *Filesystem) CreateFile(parent *LockedInode, txn *Transaction, name string) (uint32, error) {
	if parent.Disk().Type != TypeDir {
		return 0, ErrNotDir
	}
	if _, err := fsys.Lookup(parent, name); err == nil {
		return 0, ErrExist
	} else if err != ErrNotFound {
		return 0, err
	}

	inum, err := fsys.ialloc(txn, TypeFile)
	if err != nil {
		return 0, err
	}

	h := fsys.icache.Get(inum)
	li := fsys.icache.Lock(h)
	li.Disk().NLink = 1
	err = li.Update(txn)
	li.Unlock()
	fsys.icache.Release(h)
	if err != nil {
		return 0, err
	}

	if err := fsys.Link(parent, txn, name, inum); err != nil {
		return 0, err
	}
	return inum, nil
}

// UnlinkFile removes name from parent, decrementing the target's link
// count. Returns ErrIsDir if name names a directory (rmdir must be used
// instead), per spec.md §6.
func (fsys *Filesystem) UnlinkFile(parent *LockedInode, txn *Transaction, name string) error {
	inum, err := fsys.Lookup(parent, name)
	if err != nil {
		return err
	}

	h := fsys.icache.Get(inum)
	li := fsys.icache.Lock(h)
	if li.Disk().Type == TypeDir {
		li.Unlock()
		fsys.icache.Release(h)
		return ErrIsDir
	}
	li.Disk().NLink--
	err = li.Update(txn)
	li.Unlock()
	if relErr := fsys.MaybeRelease(h); err == nil {
		err = relErr
	}
	if err != nil {
		return err
	}

	return fsys.Unlink(parent, txn, name)
}

// RmdirEntry removes the empty subdirectory name from parent, per spec.md
// §6. Returns ErrNotDir if name is not a directory and ErrNotEmpty if it
// holds entries other than "." and "..".
func (fsys *Filesystem) RmdirEntry(parent *LockedInode, txn *Transaction, name string) error {
	if name == "." || name == ".." {
		return ErrIO
	}

	inum, err := fsys.Lookup(parent, name)
	if err != nil {
		return err
	}

	h := fsys.icache.Get(inum)
	li := fsys.icache.Lock(h)
	if li.Disk().Type != TypeDir {
		li.Unlock()
		fsys.icache.Release(h)
		return ErrNotDir
	}
	empty, err := fsys.IsEmpty(li)
	if err != nil {
		li.Unlock()
		fsys.icache.Release(h)
		return err
	}
	if !empty {
		li.Unlock()
		fsys.icache.Release(h)
		return ErrNotEmpty
	}
	li.Disk().NLink = 0
	err = li.Update(txn)
	li.Unlock()
	if relErr := fsys.MaybeRelease(h); err == nil {
		err = relErr
	}
	if err != nil {
		return err
	}

	if err := fsys.Unlink(parent, txn, name); err != nil {
		return err
	}
	parent.Disk().NLink--
	return parent.Update(txn)
}
