package pinfs

import (
	"github.com/google/uuid"
)

// Config holds construction-time settings, mainly so tests can run small devices.
// Sector size, slot count, and the root and free-map sectors are not part of it; they
// are compile-time constants (see types.go).
type Config struct {
	// NumSectors is the total size of the backing device, in SectorSize-byte sectors.
	NumSectors int
}

// DefaultConfig returns the Config a production mount should use absent an explicit
// override: large enough for the fixed root directory plus real use.
func DefaultConfig() Config {
	return Config{NumSectors: 8192}
}

// FileSystem is the facade spec.md §4.4 describes: filesys_init/filesys_create/
// filesys_open/filesys_remove, composed over a Cache, an Allocator, and an
// openInodeTable. A *FileSystem is safe for concurrent use; every exported operation
// acquires only the locks the layers below it need, per spec.md §5's lock order.
type FileSystem struct {
	cfg     Config
	dev     BlockDevice
	cache   *Cache
	alloc   Allocator
	inodes  *openInodeTable
	metrics *Metrics

	// sessionID tags this mount's log lines; it is never persisted to the device,
	// just stamped into structured log fields so concurrent-mount debugging can tell
	// independent FileSystem instances in the same process apart.
	sessionID uuid.UUID
}

// New wires a FileSystem over dev without touching it; call Init to format or mount.
func New(dev BlockDevice, cfg Config, metrics *Metrics) *FileSystem {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &FileSystem{
		cfg:       cfg,
		dev:       dev,
		cache:     NewCache(dev, metrics),
		alloc:     newBitmapAllocator(cfg.NumSectors, FreeMapSector, RootDirSector),
		inodes:    newOpenInodeTable(),
		metrics:   metrics,
		sessionID: uuid.New(),
	}
}

// Init implements spec.md §4.4 filesys_init: if format is set, lays down a fresh root
// directory at RootDirSector (do_format); otherwise assumes the device already holds
// one.
func (fs *FileSystem) Init(format bool) error {
	logger.Infow("pinfs: init", "session", fs.sessionID, "format", format, "sectors", fs.cfg.NumSectors)
	if format {
		return fs.doFormat()
	}
	return nil
}

// doFormat implements spec.md §4.4 do_format: create the root directory inode with
// rootDirEntries of initial capacity.
func (fs *FileSystem) doFormat() error {
	logger.Infow("pinfs: formatting", "session", fs.sessionID)
	return fs.createInode(RootDirSector, rootDirEntries*DirEntrySize, true)
}

// Shutdown implements spec.md §4.4 filesys_done: flushes every dirty cache slot back
// to the device. It does not close any still-open inode or directory handle; callers
// own their own handles' lifetimes.
func (fs *FileSystem) Shutdown() error {
	logger.Infow("pinfs: shutdown", "session", fs.sessionID)
	if err := fs.cache.Flush(); err != nil {
		return err
	}
	return fs.dev.Sync()
}

// Metrics returns the Metrics collectors this FileSystem updates, for registration
// with a prometheus.Registerer.
func (fs *FileSystem) Metrics() *Metrics { return fs.metrics }

// Create implements spec.md §4.4 filesys_create: resolves path's parent directory
// relative to pc, allocates a fresh inode of initialSize bytes (isDir selects a
// directory vs. an ordinary file), and binds the final path component to it. On any
// failure after the inode sector is allocated, it is released again — this is the one
// place the facade itself does cleanup; allocateFile's own partial-allocation leak
// (spec.md §9) is left exactly as documented.
func (fs *FileSystem) Create(pc ProcessContext, path string, initialSize uint32, isDir bool) error {
	parent, name, err := fs.resolveParent(pc, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	sectors, err := fs.alloc.Allocate(1)
	if err != nil {
		return err
	}
	sector := sectors[0]

	if err := fs.createInode(sector, initialSize, isDir); err != nil {
		fs.alloc.Release(sector, 1)
		return err
	}

	if err := parent.Add(name, sector); err != nil {
		if in, openErr := fs.openInode(sector); openErr == nil {
			in.Remove()
			in.Close()
		}
		return err
	}
	return nil
}

// Open implements spec.md §4.4 filesys_open: resolves path relative to pc to its
// inode and returns it open. Callers must Close it.
func (fs *FileSystem) Open(pc ProcessContext, path string) (*Inode, error) {
	return fs.resolveAll(pc, path)
}

// OpenDir resolves path to a directory and returns it as an open Directory handle,
// failing with ErrNotDirectory if it doesn't name one.
func (fs *FileSystem) OpenDir(pc ProcessContext, path string) (*Directory, error) {
	in, err := fs.resolveAll(pc, path)
	if err != nil {
		return nil, err
	}
	if !in.IsDir() {
		in.Close()
		return nil, ErrNotDirectory
	}
	return openDirectory(in), nil
}

// Remove implements spec.md §4.4 filesys_remove: resolves path's parent directory
// relative to pc and removes its final component, deallocating the named inode once
// its last open reference closes.
func (fs *FileSystem) Remove(pc ProcessContext, path string) error {
	parent, name, err := fs.resolveParent(pc, path)
	if err != nil {
		return err
	}
	defer parent.Close()
	return parent.Remove(name, fs)
}

// Chdir implements spec.md §6's chdir entry point, grounded on chdir_to
// (original_source/.../directory.c): resolves path to a directory via resolveAll and
// returns its inumber. The core never holds process state itself (spec.md §9's
// redesign note); mirroring chdir_to's own "pdir_ = cdir_; cdir_ = d" update, it is the
// external caller's job to set its next ParentDirSector to its current
// CurrentDirSector before adopting the returned sector as the new CurrentDirSector.
func (fs *FileSystem) Chdir(pc ProcessContext, path string) (uint32, error) {
	in, err := fs.resolveAll(pc, path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	if !in.IsDir() {
		return 0, ErrNotDirectory
	}
	return in.Sector(), nil
}
