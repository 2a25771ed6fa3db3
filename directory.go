package pinfs

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// dirEntry is the fixed-size on-disk record spec.md §3 calls DirectoryEntry: an
// inumber (the inode's own sector), a fixed-width name field, and an in-use flag.
// Directories are ordinary inode-backed files made up of these records end to end.
type dirEntry struct {
	inumber uint32
	name    string
	inUse   bool
}

func (e *dirEntry) marshal() []byte {
	buf := make([]byte, DirEntrySize)
	binary.LittleEndian.PutUint32(buf[0:], e.inumber)
	copy(buf[sectorPtrSize:sectorPtrSize+dirEntryNameField], e.name)
	if e.inUse {
		buf[sectorPtrSize+dirEntryNameField] = 1
	}
	return buf
}

func unmarshalDirEntry(buf []byte) dirEntry {
	if len(buf) != DirEntrySize {
		panic("pinfs: unmarshalDirEntry requires a DirEntrySize-length buffer")
	}
	var e dirEntry
	e.inumber = binary.LittleEndian.Uint32(buf[0:])
	field := buf[sectorPtrSize : sectorPtrSize+dirEntryNameField]
	if nul := bytes.IndexByte(field, 0); nul >= 0 {
		e.name = string(field[:nul])
	} else {
		e.name = string(field)
	}
	e.inUse = buf[sectorPtrSize+dirEntryNameField] != 0
	return e
}

// Directory is an open directory handle: an inode plus the per-directory mutex
// SPEC_FULL.md §9 mandates (the original source declares a lock field for this but
// never initializes it) and a read cursor for streaming Readdir, mirroring spec.md §4.3 dir_readdir.
type Directory struct {
	mu    sync.Mutex
	inode *Inode
	pos   uint32
}

// openDirectory wraps an already-open inode as a Directory. The caller transfers
// ownership of the inode's open reference to the returned Directory.
func openDirectory(in *Inode) *Directory {
	return &Directory{inode: in}
}

// OpenDirectory implements spec.md §4.3 dir_open: opens the inode at sector and
// wraps it, failing if it isn't a directory.
func (fs *FileSystem) OpenDirectory(sector uint32) (*Directory, error) {
	in, err := fs.openInode(sector)
	if err != nil {
		return nil, err
	}
	if !in.IsDir() {
		in.Close()
		return nil, ErrNotDirectory
	}
	return openDirectory(in), nil
}

// OpenRoot opens the fixed root directory (spec.md §4.4 dir_open_root).
func (fs *FileSystem) OpenRoot() (*Directory, error) {
	return fs.OpenDirectory(RootDirSector)
}

// Close releases the directory's underlying inode reference.
func (d *Directory) Close() error {
	return d.inode.Close()
}

// Inode returns the directory's underlying inode, e.g. so a caller can read its
// sector.
func (d *Directory) Inode() *Inode { return d.inode }

func normalizeName(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidPath
	}
	if len(name) > NameMax {
		return "", ErrNameTooLong
	}
	return name, nil
}

// lookupLocked scans every record in the directory's backing file for name,
// returning its entry and byte offset. mu must be held by the caller.
func (d *Directory) lookupLocked(name string) (dirEntry, uint32, bool, error) {
	length := d.inode.Length()
	var buf [DirEntrySize]byte
	for off := uint32(0); off+DirEntrySize <= length; off += DirEntrySize {
		n, ok, err := d.inode.ReadAt(buf[:], off)
		if err != nil {
			return dirEntry{}, 0, false, err
		}
		if !ok || n != DirEntrySize {
			break
		}
		e := unmarshalDirEntry(buf[:])
		if e.inUse && e.name == name {
			return e, off, true, nil
		}
	}
	return dirEntry{}, 0, false, nil
}

// Lookup implements spec.md §4.3 dir_lookup: returns the inumber bound to name in
// this directory, or ok==false if there is none.
func (d *Directory) Lookup(name string) (inumber uint32, ok bool, err error) {
	name, err = normalizeName(name)
	if err != nil {
		return 0, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	e, _, found, err := d.lookupLocked(name)
	if err != nil || !found {
		return 0, false, err
	}
	return e.inumber, true, nil
}

// Add implements spec.md §4.3 dir_add: binds name to inumber in this directory.
// Reuses the first freed (in_use==false) slot found by a linear scan before
// appending a new record, exactly as the original does.
func (d *Directory) Add(name string, inumber uint32) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, _, found, err := d.lookupLocked(name); err != nil {
		return err
	} else if found {
		return ErrNameInUse
	}

	length := d.inode.Length()
	entry := dirEntry{inumber: inumber, name: name, inUse: true}
	buf := entry.marshal()

	var slot [DirEntrySize]byte
	for off := uint32(0); off+DirEntrySize <= length; off += DirEntrySize {
		n, ok, err := d.inode.ReadAt(slot[:], off)
		if err != nil {
			return err
		}
		if !ok || n != DirEntrySize {
			break
		}
		if !unmarshalDirEntry(slot[:]).inUse {
			_, err := d.inode.WriteAt(buf, off)
			return err
		}
	}

	_, err = d.inode.WriteAt(buf, length)
	return err
}

// Remove implements spec.md §4.3 dir_remove: clears the in-use flag of name's
// record. The named inode itself is marked for deallocation (Inode.Remove), not
// deallocated here — matching the original's split between directory bookkeeping
// and inode lifetime.
func (d *Directory) Remove(name string, fs *FileSystem) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, off, found, err := d.lookupLocked(name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	target, err := fs.openInode(e.inumber)
	if err != nil {
		return err
	}
	defer target.Close()

	if target.IsDir() {
		sub, err := fs.OpenDirectory(e.inumber)
		if err != nil {
			return err
		}
		empty, err := sub.isEmpty()
		sub.Close()
		if err != nil {
			return err
		}
		if !empty {
			return ErrInvalidPath
		}
	}

	blank := dirEntry{}
	if _, err := d.inode.WriteAt(blank.marshal(), off); err != nil {
		return err
	}
	target.Remove()
	return nil
}

// isEmpty reports whether a directory contains no live entries. Directories carry no
// on-disk "." or ".." records in this design (path.go resolves both through the
// caller's ProcessContext instead, per spec.md §9's redesign note), so every in-use
// entry here names a real child.
func (d *Directory) isEmpty() (bool, error) {
	length := d.inode.Length()
	var buf [DirEntrySize]byte
	for off := uint32(0); off+DirEntrySize <= length; off += DirEntrySize {
		n, ok, err := d.inode.ReadAt(buf[:], off)
		if err != nil {
			return false, err
		}
		if !ok || n != DirEntrySize {
			break
		}
		if unmarshalDirEntry(buf[:]).inUse {
			return false, nil
		}
	}
	return true, nil
}

// Readdir implements spec.md §4.3 dir_readdir: returns the next in-use entry's name
// starting from the directory's internal cursor, advancing past it, or ok==false
// once every record has been consumed. Skips freed slots, exactly as the original
// skips them.
func (d *Directory) Readdir() (name string, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	length := d.inode.Length()
	var buf [DirEntrySize]byte
	for d.pos+DirEntrySize <= length {
		off := d.pos
		d.pos += DirEntrySize
		n, readOk, err := d.inode.ReadAt(buf[:], off)
		if err != nil {
			return "", false, err
		}
		if !readOk || n != DirEntrySize {
			break
		}
		e := unmarshalDirEntry(buf[:])
		if e.inUse {
			return e.name, true, nil
		}
	}
	return "", false, nil
}
