package objfs

import "slices"

// Capability names an operation class the filesystem supports.
type Capability string

const (
	CapCreate                Capability = "create"
	CapDelete                Capability = "delete"
	CapGetType               Capability = "get-type"
	CapGetLastModified       Capability = "get-last-modified"
	CapSetLastModifiedFile   Capability = "set-last-modified-file"
	CapSetLastModifiedFolder Capability = "set-last-modified-folder"
	CapListChildren          Capability = "list-children"
	CapReadContent           Capability = "read-content"
	CapWriteContent          Capability = "write-content"
	CapURI                   Capability = "uri"
)

var capabilities = []Capability{
	CapCreate,
	CapDelete,
	CapGetType,
	CapGetLastModified,
	CapSetLastModifiedFile,
	CapSetLastModifiedFolder,
	CapListChildren,
	CapReadContent,
	CapWriteContent,
	CapURI,
}

// Capabilities returns the supported capabilities. Links, permissions and
// in-place mutation of committed objects are not supported.
func Capabilities() []Capability {
	return slices.Clone(capabilities)
}

// Supported reports whether c is supported.
func (c Capability) Supported() bool {
	return slices.Contains(capabilities, c)
}

// Capabilities returns the supported capabilities.
func (fs *FileSystem) Capabilities() []Capability { return Capabilities() }
