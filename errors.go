package pinfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidSuper is returned when a sector claiming to be an inode lacks the magic number.
	ErrInvalidSuper = errors.New("invalid inode, magic number mismatch")

	// ErrNotDirectory is returned when a path component that must be a directory isn't one.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFound is returned when path resolution or directory lookup can't find a name.
	ErrNotFound = errors.New("no such file or directory")

	// ErrNameInUse is returned by dir_add when the name already exists in the directory.
	ErrNameInUse = errors.New("name already in use")

	// ErrNameTooLong is returned when a path component exceeds NameMax.
	ErrNameTooLong = errors.New("name too long")

	// ErrInvalidPath is returned for structurally invalid paths (empty, root removal, etc).
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoSpace is returned when the allocator has no free sectors left.
	ErrNoSpace = errors.New("device out of free sectors")

	// ErrFileTooLarge is returned when a requested length exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file length exceeds maximum supported size")

	// ErrNoDevice is returned by OpenFileDevice when another process already holds the
	// device file's lock.
	ErrNoDevice = errors.New("no filesystem device found")
)
