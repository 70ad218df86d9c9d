// Package mmap maps files into memory.
//
// Database pages are never written through the mapping; writers use pwrite
// on the file descriptor and the shared mapping observes the change. Scratch
// files such as the dirty page spill buffer are mapped read-write.
package mmap

// Map represents a memory-mapped file region.
type Map struct {
	data  []byte // Mapped memory region
	fd    int    // File descriptor
	size  int64  // Current mapped size
	prot  int    // Protection bits the region was mapped with
	flags int    // Extra mmap(2) flags requested by the caller
}

// Data returns the mapped byte slice.
func (m *Map) Data() []byte {
	return m.data
}

// Size returns the current mapped size.
func (m *Map) Size() int64 {
	return m.size
}

// Fd returns the file descriptor.
func (m *Map) Fd() int {
	return m.fd
}

// Error represents an mmap error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmap: " + e.Op + ": " + e.Err.Error()
	}
	return "mmap: " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Common errors
var (
	ErrInvalidSize = &Error{Op: "invalid size"}
	ErrNotMapped   = &Error{Op: "not mapped"}
)
