package objfs

import "time"

// NodeKind is what a path resolves to.
type NodeKind int

const (
	// NonExistent means neither an object nor a prefix exists at the path.
	NonExistent NodeKind = iota

	// File is a path backed by an object at its exact key.
	File

	// Directory is a path backed by a marker object or at least one
	// descendant key.
	Directory
)

// String returns the lower-case kind name.
func (k NodeKind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	case NonExistent:
		return "nonexistent"
	}
	return "unknown"
}

// Entry describes one resolved path.
type Entry struct {
	// Name is the last path segment, "" for the root.
	Name string

	Path Path
	Kind NodeKind

	// Size is the object size for files, zero for directories.
	Size int64

	// LastModified is the recorded modification time, or the store's
	// write time when none was recorded. Entries yielded by a listing carry
	// the store's write time for files and the zero time for directories.
	LastModified time.Time
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Kind == Directory }
