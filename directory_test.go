package pinfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDirectoryLookupAfterRemove implements spec.md §8 scenario 5.
func TestDirectoryLookupAfterRemove(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, fs.Create(rootPC, "/"+name, 0, false))
	}

	require.NoError(t, fs.Remove(rootPC, "/b"))

	root, err := fs.OpenRoot()
	require.NoError(t, err)
	defer root.Close()

	_, ok, err := root.Lookup("b")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, name := range []string{"a", "c"} {
		_, ok, err := root.Lookup(name)
		require.NoError(t, err)
		assert.True(t, ok, "%s should still be found", name)
	}
}

func TestDirectoryAddDuplicateNameFails(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/dup", 0, false))
	err := fs.Create(rootPC, "/dup", 0, false)
	require.ErrorIs(t, err, ErrNameInUse)
}

func TestDirectoryReaddirListsOnlyRealChildren(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	require.NoError(t, fs.Create(rootPC, "/x", 0, false))
	require.NoError(t, fs.Create(rootPC, "/y", 0, false))

	root, err := fs.OpenRoot()
	require.NoError(t, err)
	defer root.Close()

	seen := map[string]bool{}
	for {
		name, ok, err := root.Readdir()
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[name] = true
	}

	assert.True(t, seen["x"])
	assert.True(t, seen["y"])
	assert.False(t, seen["."])
	assert.False(t, seen[".."])
}

func TestDirectoryNameTooLongRejected(t *testing.T) {
	fs, _ := newTestFS(t, 2048)
	long := make([]byte, NameMax+1)
	for i := range long {
		long[i] = 'a'
	}
	err := fs.Create(rootPC, "/"+string(long), 0, false)
	require.ErrorIs(t, err, ErrNameTooLong)
}
