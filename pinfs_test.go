package pinfs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestFS builds a freshly formatted FileSystem over an in-memory device, for
// tests that want full Create/Open/Remove facade semantics rather than poking the
// cache or inode layers directly.
func newTestFS(t *testing.T, numSectors int) (*FileSystem, *MemBlockDevice) {
	t.Helper()
	dev := NewMemBlockDevice()
	fs := New(dev, Config{NumSectors: numSectors}, NewMetrics())
	require.NoError(t, fs.Init(true))
	return fs, dev
}

var rootPC = RootProcessContext{}

// TestFileSystemColdVsWarmCache implements spec.md §8 scenario 1: a sequential
// reread of a freshly reopened file issues fewer device reads than the first read,
// because the cache is still warm with the file's sectors.
func TestFileSystemColdVsWarmCache(t *testing.T) {
	fs, dev := newTestFS(t, 4096)

	const size = 30 * 1024
	require.NoError(t, fs.Create(rootPC, "/big", size, false))

	in, err := fs.Open(rootPC, "/big")
	require.NoError(t, err)
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	n, err := in.WriteAt(pattern, 0)
	require.NoError(t, err)
	require.Equal(t, size, n)
	require.NoError(t, in.Close())
	require.NoError(t, fs.cache.Reset())

	buf := make([]byte, 2048)
	readsBefore, _ := dev.Counts()
	in, err = fs.Open(rootPC, "/big")
	require.NoError(t, err)
	for off := uint32(0); off < size; off += uint32(len(buf)) {
		_, ok, err := in.ReadAt(buf, off)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, in.Close())
	readsAfter, _ := dev.Counts()
	r0 := readsAfter - readsBefore

	readsBefore2, _ := dev.Counts()
	in, err = fs.Open(rootPC, "/big")
	require.NoError(t, err)
	for off := uint32(0); off < size; off += uint32(len(buf)) {
		_, ok, err := in.ReadAt(buf, off)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, in.Close())
	readsAfter2, _ := dev.Counts()
	r1 := readsAfter2 - readsBefore2

	require.Less(t, r1, r0, "reread of a still-warm file should cost fewer device reads")
}

func TestFileSystemCreateOpenRemove(t *testing.T) {
	fs, _ := newTestFS(t, 2048)

	require.NoError(t, fs.Create(rootPC, "/a.txt", 0, false))
	require.ErrorIs(t, fs.Create(rootPC, "/a.txt", 0, false), ErrNameInUse)

	in, err := fs.Open(rootPC, "/a.txt")
	require.NoError(t, err)
	require.False(t, in.IsDir())
	require.NoError(t, in.Close())

	require.NoError(t, fs.Remove(rootPC, "/a.txt"))
	_, err = fs.Open(rootPC, "/a.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

// TestFileSystemNestedDirsAndDotDot demonstrates that "." and ".." resolve through the
// supplied ProcessContext's current/parent sectors, not through the path's own
// structural traversal, per get_dir_from/chdir_to (original_source/.../directory.c):
// every ".." in one path collapses to the same ParentDirSector, however many
// directories the path walks through before reaching it.
func TestFileSystemNestedDirsAndDotDot(t *testing.T) {
	fs, _ := newTestFS(t, 2048)

	require.NoError(t, fs.Create(rootPC, "/sub", 0, true))
	require.NoError(t, fs.Create(rootPC, "/sub/leaf.txt", 0, false))
	require.NoError(t, fs.Create(rootPC, "/other", 0, true))

	subDir, err := fs.OpenDir(rootPC, "/sub")
	require.NoError(t, err)
	subSector := subDir.Inode().Sector()
	require.NoError(t, subDir.Close())

	otherDir, err := fs.OpenDir(rootPC, "/other")
	require.NoError(t, err)
	otherSector := otherDir.Inode().Sector()
	require.NoError(t, otherDir.Close())

	// current=/sub, parent=/other: "." resolves to /sub regardless of the path string,
	// and ".." resolves to /other rather than to /sub's tree parent (root).
	pc := testProcessContext{current: subSector, parent: otherSector}

	in, err := fs.Open(pc, "./leaf.txt")
	require.NoError(t, err)
	require.NoError(t, in.Close())

	dotdot, err := fs.Open(pc, "..")
	require.NoError(t, err)
	require.Equal(t, otherSector, dotdot.Sector())
	require.NoError(t, dotdot.Close())

	// Two ".." components in the same path both collapse to the same ParentDirSector,
	// rather than walking up one tree level per occurrence.
	dotdot2, err := fs.Open(pc, "../..")
	require.NoError(t, err)
	require.Equal(t, otherSector, dotdot2.Sector())
	require.NoError(t, dotdot2.Close())
}

// TestFileSystemChdir implements spec.md §6's chdir entry point: resolving a path
// yields a sector a caller can feed back in as a new ProcessContext's current directory.
func TestFileSystemChdir(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/sub", 0, true))
	require.NoError(t, fs.Create(rootPC, "/sub/leaf.txt", 0, false))

	sector, err := fs.Chdir(rootPC, "/sub")
	require.NoError(t, err)

	// Mirrors chdir_to's own "pdir_ = cdir_; cdir_ = d": the caller's next parent is its
	// current directory before the chdir (root here), and its new current is the result.
	cwd := testProcessContext{current: sector, parent: RootDirSector}
	in, err := fs.Open(cwd, "leaf.txt")
	require.NoError(t, err)
	require.NoError(t, in.Close())

	_, err = fs.Chdir(rootPC, "/sub/leaf.txt")
	require.ErrorIs(t, err, ErrNotDirectory)
}

type testProcessContext struct{ current, parent uint32 }

func (c testProcessContext) CurrentDirSector() uint32 { return c.current }
func (c testProcessContext) ParentDirSector() uint32  { return c.parent }

func TestFileSystemRemoveNonEmptyDirFails(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/sub", 0, true))
	require.NoError(t, fs.Create(rootPC, "/sub/leaf.txt", 0, false))

	err := fs.Remove(rootPC, "/sub")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestFileSystemShutdownFlushesDirtySectors(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/f", 512, false))
	in, err := fs.Open(rootPC, "/f")
	require.NoError(t, err)
	buf := make([]byte, 512)
	rand.Read(buf)
	_, err = in.WriteAt(buf, 0)
	require.NoError(t, err)
	require.NoError(t, in.Close())

	require.NoError(t, fs.Shutdown())

	for _, s := range fs.cache.slots {
		require.False(t, s.dirty)
	}
}
