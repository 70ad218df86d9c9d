// Package spill holds the dirty pages of a write transaction in a
// memory-mapped scratch file instead of on the Go heap.
//
// A Buffer is a set of fixed-size segments. Each segment is its own file
// mapped read-write, so growing the buffer never moves slices already handed
// out.
package spill

import (
	"os"
	"strconv"
	"sync"

	"github.com/Giulio2002/gbolt/internal/bitmap"
	"github.com/Giulio2002/gbolt/mmap"
	"github.com/pkg/errors"
)

// DefaultSegmentPages is the number of page slots per segment when New is
// given zero.
const DefaultSegmentPages = 1024

// MaxSegments caps the number of segment files a buffer will create.
const MaxSegments = 256

var (
	// ErrFull is returned by Allocate once MaxSegments segments are in use.
	ErrFull = errors.New("spill: buffer full")

	// ErrClosed is returned by Allocate after Close.
	ErrClosed = errors.New("spill: buffer closed")
)

// Slot identifies one page-sized region of the buffer.
type Slot struct {
	Segment uint16
	Index   uint32
}

type segment struct {
	file *os.File
	m    *mmap.Map
	path string
	used *bitmap.Bitmap
	free []uint32 // unused slot indexes
}

// Buffer hands out page-sized slices backed by mapped scratch files.
type Buffer struct {
	mu           sync.Mutex
	path         string
	pageSize     int
	segmentPages int
	segments     []*segment
	allocated    int
	closed       bool
}

// New creates a buffer whose first segment lives at path. Further segments
// are created next to it as path.1, path.2 and so on. Existing files are
// truncated.
func New(path string, pageSize, segmentPages int) (*Buffer, error) {
	if pageSize <= 0 {
		return nil, errors.Errorf("spill: invalid page size %d", pageSize)
	}
	if segmentPages <= 0 {
		segmentPages = DefaultSegmentPages
	}

	b := &Buffer{
		path:         path,
		pageSize:     pageSize,
		segmentPages: segmentPages,
	}
	if err := b.grow(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Buffer) segmentPath(i int) string {
	if i == 0 {
		return b.path
	}
	return b.path + "." + strconv.Itoa(i)
}

// grow adds a segment. The caller holds mu or owns b exclusively.
func (b *Buffer) grow() error {
	if len(b.segments) >= MaxSegments {
		return ErrFull
	}

	path := b.segmentPath(len(b.segments))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "spill: open segment")
	}

	size := b.segmentPages * b.pageSize
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.Wrap(err, "spill: size segment")
	}

	m, err := mmap.NewWritable(int(f.Fd()), size, 0)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.Wrap(err, "spill: map segment")
	}

	free := make([]uint32, b.segmentPages)
	for i := range free {
		free[i] = uint32(b.segmentPages - 1 - i)
	}
	b.segments = append(b.segments, &segment{
		file: f,
		m:    m,
		path: path,
		used: bitmap.New(uint64(b.segmentPages)),
		free: free,
	})
	return nil
}

// Allocate returns a zeroed page-sized slice and the slot that owns it. The
// slice stays valid until the slot is released or the buffer is closed.
func (b *Buffer) Allocate() ([]byte, Slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, Slot{}, ErrClosed
	}

	for i, seg := range b.segments {
		if len(seg.free) > 0 {
			buf, slot := b.take(i)
			return buf, slot, nil
		}
	}
	if err := b.grow(); err != nil {
		return nil, Slot{}, err
	}
	buf, slot := b.take(len(b.segments) - 1)
	return buf, slot, nil
}

// take pops a free slot of segment i.
func (b *Buffer) take(i int) ([]byte, Slot) {
	seg := b.segments[i]
	idx := seg.free[len(seg.free)-1]
	seg.free = seg.free[:len(seg.free)-1]
	seg.used.Set(uint64(idx))
	b.allocated++

	buf := b.slice(seg, idx)
	clear(buf)
	return buf, Slot{Segment: uint16(i), Index: idx}
}

func (b *Buffer) slice(seg *segment, idx uint32) []byte {
	off := int(idx) * b.pageSize
	return seg.m.Data()[off : off+b.pageSize : off+b.pageSize]
}

// Get returns the slice for an allocated slot, or nil.
func (b *Buffer) Get(s Slot) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(s.Segment) >= len(b.segments) {
		return nil
	}
	seg := b.segments[s.Segment]
	if !seg.used.Has(uint64(s.Index)) {
		return nil
	}
	return b.slice(seg, s.Index)
}

// Release returns slots to the buffer. Unknown or already released slots
// are ignored.
func (b *Buffer) Release(slots ...Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range slots {
		if int(s.Segment) >= len(b.segments) {
			continue
		}
		seg := b.segments[s.Segment]
		if !seg.used.Has(uint64(s.Index)) {
			continue
		}
		seg.used.Unset(uint64(s.Index))
		seg.free = append(seg.free, s.Index)
		b.allocated--
	}
}

// Allocated returns the number of slots in use.
func (b *Buffer) Allocated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated
}

// Capacity returns the number of slots across all segments.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments) * b.segmentPages
}

// PageSize returns the slot size in bytes.
func (b *Buffer) PageSize() int {
	return b.pageSize
}

// Close unmaps and removes every segment file. Slices handed out earlier
// must not be used afterwards.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, seg := range b.segments {
		keep(seg.m.Close())
		keep(seg.file.Close())
		keep(os.Remove(seg.path))
	}
	b.segments = nil
	b.allocated = 0
	return first
}
