package pinfs

// Package pinfs implements the core of a small on-disk filesystem layered over a
// fixed-geometry block device: a bounded write-back sector cache, an indexed inode
// layer (direct/indirect/doubly-indirect pointers), and a hierarchical directory
// layer, composed by a small facade (Create/Open/Remove).
//
// The CLI/syscall dispatcher, the raw block device driver, the free-sector bitmap
// allocator, and the thread primitive library are all external collaborators in the
// system this package was distilled from; here they are Go interfaces (BlockDevice,
// Allocator) plus one concrete reference implementation of each, so the package is
// runnable and testable standalone.

const (
	// SectorSize is the fixed size, in bytes, of every unit of device I/O.
	SectorSize = 512

	// NumSlots is the number of resident cache slots.
	NumSlots = 64

	// sectorPtrSize is the on-disk width of a sector number (little-endian uint32).
	sectorPtrSize = 4

	// PtrsPerBlock is how many sector pointers fit in one indirect block.
	PtrsPerBlock = SectorSize / sectorPtrSize

	// NumDirect is the number of direct block pointers carried in an on-disk inode.
	NumDirect = 123

	// inodeMagic identifies a sector as holding a valid OnDiskInode ("INOD").
	inodeMagic = 0x494e4f44

	// NameMax bounds a single path component's length, not counting the terminator.
	NameMax = 255

	// dirEntryNameField is the fixed on-disk width of a directory entry's name field.
	dirEntryNameField = NameMax + 1

	// DirEntrySize is the fixed on-disk size of one DirectoryEntry record.
	DirEntrySize = sectorPtrSize + dirEntryNameField + 1 /* in_use */ + 3 /* padding */

	// RootDirSector is the fixed sector holding the root directory's inode.
	RootDirSector = 1

	// FreeMapSector is the fixed sector holding the free-map file's inode.
	FreeMapSector = 0

	// rootDirEntries is the entry capacity do_format gives the root directory.
	rootDirEntries = 16

	// noSector is the sentinel "none" sector value used by the cache and by unset
	// inode pointers.
	noSector = ^uint32(0)
)

// MaxFileSize is the largest length representable by the direct + indirect +
// doubly-indirect pointer layout above.
const MaxFileSize = (NumDirect + PtrsPerBlock + PtrsPerBlock*PtrsPerBlock) * SectorSize

// bytesToSectors returns the number of sectors needed to hold size bytes.
func bytesToSectors(size uint32) uint32 {
	return (size + SectorSize - 1) / SectorSize
}
