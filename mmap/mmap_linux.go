//go:build linux

package mmap

import "golang.org/x/sys/unix"

// tryMremap grows or shrinks the mapping in place, moving it if needed.
func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return unix.Mremap(m.data, newSize, unix.MREMAP_MAYMOVE)
}
