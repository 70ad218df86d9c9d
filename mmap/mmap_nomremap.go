//go:build unix && !linux

package mmap

import "errors"

var errNoMremap = errors.New("mremap not available")

// tryMremap always fails so Remap falls back to munmap and mmap.
func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return nil, errNoMremap
}
