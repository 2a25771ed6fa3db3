package pinfs

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// BlockDevice is the raw block device driver contract spec.md §6 describes: fixed
// SectorSize reads and writes, sector-aligned, assumed infallible above this layer
// (every error returned here is a genuine I/O failure, not a range violation — those
// are caller bugs and are asserted against before BlockDevice is ever called).
type BlockDevice interface {
	ReadSector(sector uint32, dst []byte) error
	WriteSector(sector uint32, src []byte) error
	Sync() error
}

// FileBlockDevice backs a BlockDevice with a flat file, using
// golang.org/x/sys/unix.Pread/Pwrite for sector-aligned I/O instead of
// os.File.ReadAt/WriteAt, and unix.Flock to perform the "role discovery" spec.md §6
// calls for: the process that successfully takes the exclusive lock on the file is
// the one that gets to treat it as the filesystem device.
type FileBlockDevice struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileDevice opens (creating if needed) path as a flat file of at least
// numSectors*SectorSize bytes and takes an exclusive advisory lock on it, failing if
// another process already holds the "filesystem device" role for this file.
func OpenFileDevice(path string, numSectors int) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pinfs: open device %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is locked by another process: %v", ErrNoDevice, path, err)
	}

	want := int64(numSectors) * SectorSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}

	return &FileBlockDevice{f: f}, nil
}

func (d *FileBlockDevice) ReadSector(sector uint32, dst []byte) error {
	if len(dst) != SectorSize {
		panic("pinfs: ReadSector requires a SectorSize-length buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pread(int(d.f.Fd()), dst, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("pinfs: read sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("pinfs: short read on sector %d: got %d bytes", sector, n)
	}
	return nil
}

func (d *FileBlockDevice) WriteSector(sector uint32, src []byte) error {
	if len(src) != SectorSize {
		panic("pinfs: WriteSector requires a SectorSize-length buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pwrite(int(d.f.Fd()), src, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("pinfs: write sector %d: %w", sector, err)
	}
	if n != SectorSize {
		return fmt.Errorf("pinfs: short write on sector %d: wrote %d bytes", sector, n)
	}
	return nil
}

func (d *FileBlockDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}

// Close releases the device's role lock and closes the backing file. It does not
// flush the cache layered on top — callers should call FileSystem.Shutdown first.
func (d *FileBlockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}

// MemBlockDevice is an in-memory BlockDevice, used by tests that don't want to touch
// the filesystem. It is not part of the external-device contract proper, only a test
// double for it.
type MemBlockDevice struct {
	mu      sync.Mutex
	sectors map[uint32][]byte
	reads   int
	writes  int
}

func NewMemBlockDevice() *MemBlockDevice {
	return &MemBlockDevice{sectors: make(map[uint32][]byte)}
}

func (d *MemBlockDevice) ReadSector(sector uint32, dst []byte) error {
	if len(dst) != SectorSize {
		panic("pinfs: ReadSector requires a SectorSize-length buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if data, ok := d.sectors[sector]; ok {
		copy(dst, data)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	return nil
}

func (d *MemBlockDevice) WriteSector(sector uint32, src []byte) error {
	if len(src) != SectorSize {
		panic("pinfs: WriteSector requires a SectorSize-length buffer")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	buf := make([]byte, SectorSize)
	copy(buf, src)
	d.sectors[sector] = buf
	return nil
}

func (d *MemBlockDevice) Sync() error { return nil }

// Counts returns the number of ReadSector/WriteSector calls observed so far, for
// tests asserting on cache-effect scenarios (spec.md §8 scenarios 1 and 2).
func (d *MemBlockDevice) Counts() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}
