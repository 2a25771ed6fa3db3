package pinfs

import "strings"

// ProcessContext supplies the two pieces of ambient state path resolution needs:
// spec.md §3 calls these "current-directory inode-sector and parent-directory
// inode-sector". spec.md §4.4's redesign note requires both be passed explicitly by
// every caller rather than read off a global/thread-local struct, so concurrent
// callers with different working directories never interfere.
//
// Per original_source/pintos/src/filesys/directory.c's get_dir_from/chdir_to, "parent
// directory" is process-historical, not tree-structural: it is whatever directory the
// process's current directory used to be before its last chdir, not the tree parent of
// the current directory. ParentDirSector is only ever updated by a chdir; every ".."
// in a path resolves to the same value, regardless of how many directories the path
// walks through before reaching it.
type ProcessContext interface {
	// CurrentDirSector returns the inode sector a "." component resolves to.
	CurrentDirSector() uint32
	// ParentDirSector returns the inode sector a ".." component resolves to.
	ParentDirSector() uint32
}

// RootProcessContext is the trivial ProcessContext every resolution implicitly uses
// for absolute paths, and the one a fresh session starts from: both its current and
// parent directory are the root.
type RootProcessContext struct{}

func (RootProcessContext) CurrentDirSector() uint32 { return RootDirSector }
func (RootProcessContext) ParentDirSector() uint32  { return RootDirSector }

// splitPath breaks path into its non-empty components and reports whether it started
// with "/". It never mutates its input (spec.md §4.4: no in-place path mutation).
func splitPath(path string) (absolute bool, components []string) {
	absolute = strings.HasPrefix(path, "/")
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			components = append(components, c)
		}
	}
	return absolute, components
}

// openStartDir opens the directory a path resolution should begin walking from.
func (fs *FileSystem) openStartDir(pc ProcessContext, absolute bool) (*Directory, error) {
	if absolute || pc == nil {
		return fs.OpenRoot()
	}
	return fs.OpenDirectory(pc.CurrentDirSector())
}

// openDotDir opens the directory a "." or ".." component resolves to, per pc, ignoring
// wherever the path's traversal otherwise currently stands.
func (fs *FileSystem) openDotDir(pc ProcessContext, name string) (*Directory, error) {
	if name == "." {
		return fs.OpenDirectory(pc.CurrentDirSector())
	}
	return fs.OpenDirectory(pc.ParentDirSector())
}

// step advances cur past one non-final path component, closing cur and returning the
// directory the component resolves to: pc's current/parent directory for "."/"..", or
// a plain dir_lookup otherwise.
func (fs *FileSystem) step(pc ProcessContext, cur *Directory, name string) (*Directory, error) {
	if name == "." || name == ".." {
		next, err := fs.openDotDir(pc, name)
		cur.Close()
		return next, err
	}

	sector, ok, err := cur.Lookup(name)
	if err != nil {
		cur.Close()
		return nil, err
	}
	if !ok {
		cur.Close()
		return nil, ErrNotFound
	}
	next, err := fs.OpenDirectory(sector)
	cur.Close()
	return next, err
}

// resolveParent implements spec.md §4.4's "resolve the parent directory of a path,
// leaving the final component unresolved" step, used by Create and Remove. The
// returned Directory is open and must be closed by the caller. The final component is
// returned verbatim, even if it is itself "." or ".." (the original's get_fname_from
// has no special case for it either).
func (fs *FileSystem) resolveParent(pc ProcessContext, path string) (dir *Directory, last string, err error) {
	absolute, components := splitPath(path)
	if len(components) == 0 {
		return nil, "", ErrInvalidPath
	}

	cur, err := fs.openStartDir(pc, absolute)
	if err != nil {
		return nil, "", err
	}

	for _, name := range components[:len(components)-1] {
		cur, err = fs.step(pc, cur, name)
		if err != nil {
			return nil, "", err
		}
	}

	return cur, components[len(components)-1], nil
}

// resolveAll implements spec.md §4.4 filesys_open's full-path resolution: walk every
// component, including the last, to the inode it names. A final "."/".." component
// resolves to pc's current/parent directory, exactly like any other occurrence.
func (fs *FileSystem) resolveAll(pc ProcessContext, path string) (*Inode, error) {
	absolute, components := splitPath(path)

	cur, err := fs.openStartDir(pc, absolute)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		// "/" or "" resolves to the start directory itself.
		return cur.Inode(), nil
	}

	for i, name := range components {
		last := i == len(components)-1

		if name == "." || name == ".." {
			cur, err = fs.step(pc, cur, name)
			if err != nil {
				return nil, err
			}
			if last {
				return cur.Inode(), nil
			}
			continue
		}

		sector, ok, err := cur.Lookup(name)
		if err != nil {
			cur.Close()
			return nil, err
		}
		if !ok {
			cur.Close()
			return nil, ErrNotFound
		}
		if last {
			cur.Close()
			return fs.openInode(sector)
		}
		next, err := fs.OpenDirectory(sector)
		cur.Close()
		if err != nil {
			return nil, err
		}
		cur = next
	}

	// Unreachable: the loop above always returns on its last iteration.
	cur.Close()
	return nil, ErrInvalidPath
}
