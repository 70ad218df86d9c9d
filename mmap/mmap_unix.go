//go:build unix

package mmap

import (
	"golang.org/x/sys/unix"
)

// New maps length bytes of fd read-only from offset 0. flags are OR'ed into
// MAP_SHARED, e.g. unix.MAP_POPULATE. The length may exceed the file size;
// touching pages past the end of the file faults.
func New(fd int, length int, flags int) (*Map, error) {
	return newMap(fd, length, unix.PROT_READ, flags)
}

// NewWritable maps length bytes of fd read-write from offset 0. Stores
// through the mapping reach the file; the length must not exceed it.
func NewWritable(fd int, length int, flags int) (*Map, error) {
	return newMap(fd, length, unix.PROT_READ|unix.PROT_WRITE, flags)
}

func newMap(fd, length, prot, flags int) (*Map, error) {
	if length <= 0 {
		return nil, ErrInvalidSize
	}

	data, err := unix.Mmap(fd, 0, length, prot, unix.MAP_SHARED|flags)
	if err != nil {
		return nil, &Error{Op: "mmap", Err: err}
	}

	return &Map{
		data:  data,
		fd:    fd,
		size:  int64(length),
		prot:  prot,
		flags: flags,
	}, nil
}

// Close releases the memory mapping.
func (m *Map) Close() error {
	if m.data == nil {
		return nil
	}

	err := unix.Munmap(m.data)
	m.data = nil
	m.size = 0
	if err != nil {
		return &Error{Op: "munmap", Err: err}
	}
	return nil
}

// Remap changes the size of the mapping. The mapping may move, so any slice
// obtained from Data before the call must not be used afterwards.
func (m *Map) Remap(newSize int64) error {
	if m.data == nil {
		return ErrNotMapped
	}

	if newSize <= 0 {
		return ErrInvalidSize
	}

	if newSize == m.size {
		return nil
	}

	// Try mremap first where the kernel has it.
	newData, err := m.tryMremap(int(newSize))
	if err == nil {
		m.data = newData
		m.size = newSize
		return nil
	}

	// Fallback: unmap and remap
	if err := unix.Munmap(m.data); err != nil {
		return &Error{Op: "munmap for remap", Err: err}
	}

	newData, err = unix.Mmap(m.fd, 0, int(newSize), m.prot, unix.MAP_SHARED|m.flags)
	if err != nil {
		m.data = nil
		m.size = 0
		return &Error{Op: "mmap for remap", Err: err}
	}

	m.data = newData
	m.size = newSize
	return nil
}

// Advise provides hints to the kernel about memory usage patterns.
func (m *Map) Advise(advice int) error {
	if m.data == nil {
		return ErrNotMapped
	}
	return unix.Madvise(m.data, advice)
}

// AdviseRandom hints that pages will be accessed randomly.
func (m *Map) AdviseRandom() error {
	return m.Advise(unix.MADV_RANDOM)
}
