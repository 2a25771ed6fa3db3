package pinfs

import (
	"sync"
)

// Inode is the in-memory, reference-counted open-inode object spec.md §3 calls
// InMemoryInode. sector doubles as the inumber (spec.md glossary).
//
// GUARDED_BY(mu): openCount, removed, extending, denyWriteCount, activeWriters, disk.
type Inode struct {
	fs     *FileSystem
	sector uint32

	mu             sync.Mutex
	condNotExtend  *sync.Cond // broadcast when extending flips false
	condNoWriters  *sync.Cond // broadcast when activeWriters reaches 0
	openCount      int
	removed        bool
	extending      bool
	denyWriteCount int
	activeWriters  int // spec.md §9: kept distinct from denyWriteCount, not reused
	disk           *onDiskInode
}

// openInodeTable is the external arena spec.md §9 calls for: an open-inode table
// keyed by sector number, guarded by its own mutex, sitting above the per-inode lock
// in the lock order (spec.md §5: table mutex -> inode mutex -> cache mutex).
type openInodeTable struct {
	mu    sync.Mutex
	table map[uint32]*Inode
}

func newOpenInodeTable() *openInodeTable {
	return &openInodeTable{table: make(map[uint32]*Inode)}
}

// byteToSector implements spec.md §4.2 byte_to_sector: the sector holding byte pos,
// or (noSector, false) if pos is at or past length. disk is read-only here; the
// indirect/double-indirect blocks it references are fetched through the cache.
func (fs *FileSystem) byteToSector(disk *onDiskInode, pos uint32) (uint32, error) {
	if pos >= disk.length {
		return noSector, nil
	}
	blockNum := pos / SectorSize

	if blockNum < NumDirect {
		return disk.direct[blockNum], nil
	}
	blockNum -= NumDirect

	if blockNum < PtrsPerBlock {
		ind, err := fs.readIndirect(disk.indirect)
		if err != nil {
			return noSector, err
		}
		return ind.ptrs[blockNum], nil
	}
	blockNum -= PtrsPerBlock

	idx1 := blockNum / PtrsPerBlock
	idx2 := blockNum % PtrsPerBlock
	dind, err := fs.readIndirect(disk.doubleIndirect)
	if err != nil {
		return noSector, err
	}
	ind, err := fs.readIndirect(dind.ptrs[idx1])
	if err != nil {
		return noSector, err
	}
	return ind.ptrs[idx2], nil
}

func (fs *FileSystem) readIndirect(sector uint32) (*indirectBlock, error) {
	var buf [SectorSize]byte
	if err := fs.cache.Read(sector, buf[:], 0, SectorSize); err != nil {
		return nil, err
	}
	return unmarshalIndirectBlock(buf[:]), nil
}

func (fs *FileSystem) writeIndirect(sector uint32, b *indirectBlock) error {
	return fs.cache.Write(sector, b.marshal(), 0, SectorSize)
}

func (fs *FileSystem) allocateOneSector() (uint32, error) {
	secs, err := fs.alloc.Allocate(1)
	if err != nil {
		logger.Warnw("pinfs: sector allocation failed", "error", err)
		fs.metrics.AllocFailures.Inc()
		return noSector, err
	}
	fs.metrics.SectorsAllocated.Inc()
	return secs[0], nil
}

// allocateFile implements spec.md §4.2 allocate_file: best-effort-forward allocation
// of every block index needed to reach newLength, allocating indirect/double-indirect
// index blocks on demand. On partial failure (free-map exhaustion) it returns the
// error without rolling back already-allocated sectors — spec.md §9's preserved leak,
// resolved-open-question #1 in SPEC_FULL.md.
//
// If inode is non-nil, the caller must hold inode.mu on entry (the live-inode,
// extending-while-open case): allocateFile flips extending, releases inode.mu across
// the allocation and indirect-block cache writes, then reacquires it, commits the new
// length, clears extending, and broadcasts condNotExtend. If inode is nil (the
// inode_create case), disk is a fresh in-memory struct nobody else can see yet.
func (fs *FileSystem) allocateFile(inode *Inode, disk *onDiskInode, newLength uint32) error {
	if newLength > MaxFileSize {
		return ErrFileTooLarge
	}
	numSectors := bytesToSectors(newLength)

	if inode != nil {
		inode.extending = true
		inode.mu.Unlock()
	}

	err := fs.allocateBlocks(disk, numSectors)

	if inode != nil {
		inode.mu.Lock()
		if err == nil {
			disk.length = newLength
		}
		inode.extending = false
		inode.condNotExtend.Broadcast()
	}
	return err
}

// allocateBlocks installs sectors for every block index in [0, numSectors) that
// isn't already mapped, allocating the singly- and doubly-indirect index blocks on
// demand. It never runs with any inode mutex held (the caller arranges that).
func (fs *FileSystem) allocateBlocks(disk *onDiskInode, numSectors uint32) error {
	var ind *indirectBlock
	indDirty := false
	flushInd := func() error {
		if ind != nil && indDirty {
			if err := fs.writeIndirect(disk.indirect, ind); err != nil {
				return err
			}
			indDirty = false
		}
		return nil
	}

	var dind *indirectBlock
	dindDirty := false
	var level1 *indirectBlock
	level1Idx := ^uint32(0)
	level1Dirty := false
	flushLevel1 := func() error {
		if level1 != nil && level1Dirty {
			if err := fs.writeIndirect(dind.ptrs[level1Idx], level1); err != nil {
				return err
			}
			level1Dirty = false
		}
		return nil
	}
	flushDouble := func() error {
		if err := flushLevel1(); err != nil {
			return err
		}
		if dind != nil && dindDirty {
			if err := fs.writeIndirect(disk.doubleIndirect, dind); err != nil {
				return err
			}
			dindDirty = false
		}
		return nil
	}

	for blockNum := uint32(0); blockNum < numSectors; blockNum++ {
		switch {
		case blockNum < NumDirect:
			if disk.direct[blockNum] == noSector {
				sec, err := fs.allocateOneSector()
				if err != nil {
					return err
				}
				disk.direct[blockNum] = sec
			}

		case blockNum-NumDirect < PtrsPerBlock:
			rel := blockNum - NumDirect
			if ind == nil {
				if disk.indirect == noSector {
					sec, err := fs.allocateOneSector()
					if err != nil {
						return err
					}
					disk.indirect = sec
					ind = newIndirectBlock()
				} else {
					var err error
					ind, err = fs.readIndirect(disk.indirect)
					if err != nil {
						return err
					}
				}
			}
			if ind.ptrs[rel] == noSector {
				sec, err := fs.allocateOneSector()
				if err != nil {
					return err
				}
				ind.ptrs[rel] = sec
				indDirty = true
			}

		default:
			rel := blockNum - NumDirect - PtrsPerBlock
			idx1 := rel / PtrsPerBlock
			idx2 := rel % PtrsPerBlock

			if dind == nil {
				if disk.doubleIndirect == noSector {
					sec, err := fs.allocateOneSector()
					if err != nil {
						return err
					}
					disk.doubleIndirect = sec
					dind = newIndirectBlock()
				} else {
					var err error
					dind, err = fs.readIndirect(disk.doubleIndirect)
					if err != nil {
						return err
					}
				}
			}
			if idx1 != level1Idx {
				if err := flushLevel1(); err != nil {
					return err
				}
				level1 = nil
			}
			if level1 == nil {
				if dind.ptrs[idx1] == noSector {
					sec, err := fs.allocateOneSector()
					if err != nil {
						return err
					}
					dind.ptrs[idx1] = sec
					dindDirty = true
					level1 = newIndirectBlock()
				} else {
					var err error
					level1, err = fs.readIndirect(dind.ptrs[idx1])
					if err != nil {
						return err
					}
				}
				level1Idx = idx1
			}
			if level1.ptrs[idx2] == noSector {
				sec, err := fs.allocateOneSector()
				if err != nil {
					return err
				}
				level1.ptrs[idx2] = sec
				level1Dirty = true
			}
		}
	}

	if err := flushInd(); err != nil {
		return err
	}
	return flushDouble()
}

// deallocateFile implements spec.md §4.2 deallocate_file: releases every allocated
// data sector, each indirect block, the double-indirect block, and the inode's own
// sector.
func (fs *FileSystem) deallocateFile(inode *Inode) error {
	disk := inode.disk
	numSectors := bytesToSectors(disk.length)

	count := uint32(0)
	for count < NumDirect && count < numSectors {
		fs.alloc.Release(disk.direct[count], 1)
		count++
	}
	numSectors -= count

	if numSectors > 0 {
		ind, err := fs.readIndirect(disk.indirect)
		if err != nil {
			return err
		}
		count = 0
		for count < PtrsPerBlock && count < numSectors {
			fs.alloc.Release(ind.ptrs[count], 1)
			count++
		}
		fs.alloc.Release(disk.indirect, 1)
		numSectors -= count
	}

	if numSectors > 0 {
		dind, err := fs.readIndirect(disk.doubleIndirect)
		if err != nil {
			return err
		}
		numLevel1 := (numSectors + PtrsPerBlock - 1) / PtrsPerBlock
		for i := uint32(0); i < numLevel1 && numSectors > 0; i++ {
			ind, err := fs.readIndirect(dind.ptrs[i])
			if err != nil {
				return err
			}
			count = 0
			for count < PtrsPerBlock && count < numSectors {
				fs.alloc.Release(ind.ptrs[count], 1)
				count++
			}
			fs.alloc.Release(dind.ptrs[i], 1)
			numSectors -= count
		}
		fs.alloc.Release(disk.doubleIndirect, 1)
	}

	fs.alloc.Release(inode.sector, 1)
	return nil
}

// createInode implements spec.md §4.2 inode_create: allocate a zeroed on-disk inode
// in memory, tag it with the magic number, run allocation for length, write it
// through the cache to sector. The caller owns reserving sector itself (the facade
// does, via Allocator) and is responsible for releasing it on failure.
func (fs *FileSystem) createInode(sector uint32, length uint32, isDir bool) error {
	disk := newOnDiskInode()
	disk.isDir = isDir
	if err := fs.allocateFile(nil, disk, length); err != nil {
		return err
	}
	disk.length = length
	return fs.cache.Write(sector, disk.marshal(), 0, SectorSize)
}

// openInode implements spec.md §4.2 inode_open: if an in-memory inode already exists
// for sector, bump its open count and return it; otherwise insert a new table entry
// and load the on-disk image.
func (fs *FileSystem) openInode(sector uint32) (*Inode, error) {
	fs.inodes.mu.Lock()
	if in, ok := fs.inodes.table[sector]; ok {
		in.mu.Lock()
		in.openCount++
		in.mu.Unlock()
		fs.inodes.mu.Unlock()
		return in, nil
	}

	in := &Inode{fs: fs, sector: sector, openCount: 1}
	in.condNotExtend = sync.NewCond(&in.mu)
	in.condNoWriters = sync.NewCond(&in.mu)
	fs.inodes.table[sector] = in
	fs.inodes.mu.Unlock()

	var buf [SectorSize]byte
	if err := fs.cache.Read(sector, buf[:], 0, SectorSize); err != nil {
		fs.inodes.mu.Lock()
		delete(fs.inodes.table, sector)
		fs.inodes.mu.Unlock()
		return nil, err
	}
	disk, err := unmarshalOnDiskInode(buf[:])
	if err != nil {
		fs.inodes.mu.Lock()
		delete(fs.inodes.table, sector)
		fs.inodes.mu.Unlock()
		return nil, err
	}
	in.disk = disk
	return in, nil
}

// Close implements spec.md §4.2 inode_close: decrement openCount; at zero, remove
// from the table, write the (possibly length-extended) on-disk image back, and
// deallocate if removed was asserted.
func (in *Inode) Close() error {
	fs := in.fs
	in.mu.Lock()
	in.openCount--
	last := in.openCount == 0
	removed := in.removed
	disk := in.disk
	in.mu.Unlock()

	if !last {
		return nil
	}

	fs.inodes.mu.Lock()
	delete(fs.inodes.table, in.sector)
	fs.inodes.mu.Unlock()

	if err := fs.cache.Write(in.sector, disk.marshal(), 0, SectorSize); err != nil {
		return err
	}
	if removed {
		logger.Debugw("pinfs: deallocating removed inode", "sector", in.sector)
		return fs.deallocateFile(in)
	}
	return nil
}

// Remove implements spec.md §4.2 inode_remove: marks the inode for deallocation at
// last close. The file remains usable until then.
func (in *Inode) Remove() {
	in.mu.Lock()
	in.removed = true
	in.mu.Unlock()
}

// Sector returns the inode's own on-disk sector, which doubles as its inumber.
func (in *Inode) Sector() uint32 { return in.sector }

// Length returns the inode's current length in bytes.
func (in *Inode) Length() uint32 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.length
}

// IsDir reports whether this inode names a directory.
func (in *Inode) IsDir() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.isDir
}

// SetIsDir writes and persists the is_dir flag. spec.md §9 notes the original source
// reads this field instead of writing it ("a likely bug"); this implementation
// writes the parameter into the on-disk image, as the redesign note calls for.
func (in *Inode) SetIsDir(value bool) {
	in.mu.Lock()
	in.disk.isDir = value
	in.mu.Unlock()
}

// ReadAt implements spec.md §4.2 inode_read: waits out any in-progress extension,
// snapshots length, then copies chunk by chunk through the cache. On success it
// transfers all len(buf) bytes; if the requested range extends past length nothing is
// read and ok is false (the -1 result), matching spec.md §7.4/§8.
// Mirrors inode_read_at's own guard (inode.c: "offset + size > inode->data.length"): a
// zero-length read sitting exactly at offset==length does not extend past it, so it
// succeeds with 0 bytes rather than reporting out-of-range.
func (in *Inode) ReadAt(buf []byte, offset uint32) (n int, ok bool, err error) {
	in.mu.Lock()
	for in.extending {
		in.condNotExtend.Wait()
	}
	length := in.disk.length
	in.mu.Unlock()

	if offset+uint32(len(buf)) > length {
		return 0, false, nil
	}

	fs := in.fs
	size := len(buf)
	for size > 0 {
		sectorOfs := offset % SectorSize
		sector, err := fs.byteToSector(in.disk, offset)
		if err != nil {
			return n, true, err
		}

		inodeLeft := length - offset
		sectorLeft := uint32(SectorSize) - sectorOfs
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := uint32(size)
		if minLeft < chunk {
			chunk = minLeft
		}
		if chunk == 0 {
			break
		}

		if err := fs.cache.Read(sector, buf[n:n+int(chunk)], int(sectorOfs), int(chunk)); err != nil {
			return n, true, err
		}

		size -= int(chunk)
		offset += chunk
		n += int(chunk)
	}
	fs.metrics.BytesRead.Add(float64(n))
	return n, true, nil
}

// WriteAt implements spec.md §4.2 inode_write: returns 0 immediately if
// denyWriteCount > 0, waits out any in-progress extension, extends the file under
// the inode lock if the write would grow it (handing off to allocateFile), then
// copies chunk by chunk through the cache. A growing write keeps extending set until
// its data is copied in, so a reader never sees the new length before the new bytes.
// spec.md §9 calls for a distinct
// activeWriters counter rather than reusing denyWriteCount for this bookkeeping
// (the original's bug); activeWriters is what denyWrite actually waits to drain.
func (in *Inode) WriteAt(buf []byte, offset uint32) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	in.mu.Lock()
	if in.denyWriteCount > 0 {
		in.mu.Unlock()
		return 0, nil
	}
	in.activeWriters++
	for in.extending {
		in.condNotExtend.Wait()
	}

	fs := in.fs
	newLength := offset + uint32(len(buf))
	extended := false
	if newLength > in.disk.length {
		if err := fs.allocateFile(in, in.disk, newLength); err != nil {
			in.activeWriters--
			if in.activeWriters == 0 {
				in.condNoWriters.Broadcast()
			}
			in.mu.Unlock()
			return 0, err
		}
		// Keep readers waiting until the newly granted bytes hold this write's data.
		in.extending = true
		extended = true
	}
	disk := in.disk
	length := disk.length
	in.mu.Unlock()

	size := len(buf)
	n := 0
	var writeErr error
	for size > 0 {
		sectorOfs := offset % SectorSize
		sector, err := fs.byteToSector(disk, offset)
		if err != nil {
			writeErr = err
			break
		}

		inodeLeft := length - offset
		sectorLeft := uint32(SectorSize) - sectorOfs
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := uint32(size)
		if minLeft < chunk {
			chunk = minLeft
		}
		if chunk == 0 {
			break
		}

		if err := fs.cache.Write(sector, buf[n:n+int(chunk)], int(sectorOfs), int(chunk)); err != nil {
			writeErr = err
			break
		}

		size -= int(chunk)
		offset += chunk
		n += int(chunk)
	}

	in.mu.Lock()
	if extended {
		in.extending = false
		in.condNotExtend.Broadcast()
	}
	in.activeWriters--
	if in.activeWriters == 0 {
		in.condNoWriters.Broadcast()
	}
	in.mu.Unlock()

	fs.metrics.BytesWritten.Add(float64(n))
	return n, writeErr
}

// DenyWrite implements spec.md §4.2 inode_deny_write: increments denyWriteCount,
// waiting for any writes already in flight (activeWriters) to drain first. May be
// called at most once per opener (spec.md I8).
func (in *Inode) DenyWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.activeWriters > 0 {
		logger.Debugw("pinfs: deny-write blocked on active writers", "sector", in.sector, "active_writers", in.activeWriters)
	}
	for in.activeWriters > 0 {
		in.condNoWriters.Wait()
	}
	in.denyWriteCount++
}

// AllowWrite implements spec.md §4.2 inode_allow_write: decrements denyWriteCount.
func (in *Inode) AllowWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.denyWriteCount == 0 {
		panic("pinfs: AllowWrite without matching DenyWrite")
	}
	in.denyWriteCount--
}
