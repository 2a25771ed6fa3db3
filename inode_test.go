package pinfs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestInodeWriteCoalescing implements spec.md §8 scenario 2: many 1-byte writes
// into the same file share sectors, so the device write count stays well under the
// byte count.
func TestInodeWriteCoalescing(t *testing.T) {
	fs, dev := newTestFS(t, 4096)
	require.NoError(t, fs.Create(rootPC, "/coalesce", 0, false))
	in, err := fs.Open(rootPC, "/coalesce")
	require.NoError(t, err)

	const total = 64000
	content := make([]byte, total)
	rand.Read(content)

	_, writesBefore := dev.Counts()
	for i := 0; i < total; i++ {
		n, err := in.WriteAt(content[i:i+1], uint32(i))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	require.NoError(t, fs.cache.Flush())
	_, writesAfter := dev.Counts()

	got := make([]byte, total)
	for i := 0; i < total; i++ {
		_, ok, err := in.ReadAt(got[i:i+1], uint32(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, content, got)

	deviceWrites := writesAfter - writesBefore
	assert.GreaterOrEqual(t, deviceWrites, 100)
	assert.LessOrEqual(t, deviceWrites, 150, "per-byte writes should coalesce onto roughly one device write per sector")

	require.NoError(t, in.Close())
}

// TestInodeExtensionVisibility implements spec.md §8 scenario 3: a concurrent
// reader racing a file-extending writer never observes a torn length.
func TestInodeExtensionVisibility(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		fs, _ := newTestFS(t, 2048)
		require.NoError(t, fs.Create(rootPC, "/race", 0, false))
		in, err := fs.Open(rootPC, "/race")
		require.NoError(t, err)

		want := make([]byte, 4096)
		rand.Read(want)

		var g errgroup.Group
		g.Go(func() error {
			_, err := in.WriteAt(want, 0)
			return err
		})
		g.Go(func() error {
			buf := make([]byte, 4096)
			n, ok, err := in.ReadAt(buf, 0)
			if err != nil {
				return err
			}
			if !ok {
				return nil // acceptable: read observed the file still empty
			}
			if n != 4096 {
				return nil // partial-but-honest read of a not-yet-extended region, not torn data
			}
			assert.Equal(t, want, buf)
			return nil
		})
		require.NoError(t, g.Wait())
		require.NoError(t, in.Close())
	}
}

// TestInodeDenyWrite implements spec.md §8 scenario 4.
func TestInodeDenyWrite(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/deny", 16, false))

	h1, err := fs.Open(rootPC, "/deny")
	require.NoError(t, err)
	h2, err := fs.Open(rootPC, "/deny")
	require.NoError(t, err)

	h1.DenyWrite()

	n, err := h2.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h1.AllowWrite()

	n, err = h2.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, h1.Close())
	require.NoError(t, h2.Close())
}

func TestInodeLengthMonotonic(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/grow", 0, false))
	in, err := fs.Open(rootPC, "/grow")
	require.NoError(t, err)

	last := in.Length()
	for _, off := range []uint32{10, 5, 100, 50} {
		_, err := in.WriteAt([]byte("x"), off)
		require.NoError(t, err)
		cur := in.Length()
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}
	require.NoError(t, in.Close())
}

// TestInodeDirectBoundary implements spec.md §8's boundary behaviours around
// NUM_DIRECT * SECTOR_SIZE.
func TestInodeDirectBoundary(t *testing.T) {
	fs, _ := newTestFS(t, 4096)

	require.NoError(t, fs.Create(rootPC, "/exact", NumDirect*SectorSize, false))
	in, err := fs.Open(rootPC, "/exact")
	require.NoError(t, err)
	assert.Equal(t, noSector, in.disk.indirect)
	require.NoError(t, in.Close())

	require.NoError(t, fs.Create(rootPC, "/over", NumDirect*SectorSize+1, false))
	in2, err := fs.Open(rootPC, "/over")
	require.NoError(t, err)
	assert.NotEqual(t, noSector, in2.disk.indirect)
	assert.Equal(t, noSector, in2.disk.doubleIndirect)
	require.NoError(t, in2.Close())
}

func TestInodeMaxFileSizeRejected(t *testing.T) {
	fs, _ := newTestFS(t, 4096)
	err := fs.Create(rootPC, "/huge", MaxFileSize+1, false)
	require.ErrorIs(t, err, ErrFileTooLarge)
}
