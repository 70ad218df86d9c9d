package gbolt

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// pgid is a page id: the page's offset in the file is pgid * pageSize.
type pgid uint64

// txid is a transaction id, incremented by every write transaction.
type txid uint64

// Fixed sizes of the on-disk structures.
const (
	// pageHeaderSize is the fixed page header size (16 bytes)
	pageHeaderSize = 16

	// leafPageElementSize is the size of one leaf element header
	leafPageElementSize = 16

	// branchPageElementSize is the size of one branch element header
	branchPageElementSize = 16

	// bucketHeaderSize is the size of a persisted bucket descriptor
	bucketHeaderSize = 16

	// metaSize is the encoded size of a meta structure
	metaSize = 64

	// minPageSize is the smallest page that can hold a meta page
	minPageSize = pageHeaderSize + metaSize

	// freelistCountOverflow is the header count sentinel meaning the real
	// count is stored in the first id slot
	freelistCountOverflow = 0xFFFF
)

// page is a bounds-checked view over the bytes of one page (plus any
// overflow pages that follow it).
//
// Header layout (little-endian):
//
//	Offset  Size  Field
//	0       8     id
//	8       2     flags
//	10      2     count
//	12      4     overflow
//	16      ...   elements / meta / freelist ids
type page struct {
	data []byte
}

// pageAt returns the page view starting at off in buf. The view extends to
// the end of the page's overflow run, clipped to the buffer.
func pageAt(buf []byte, off, pageSize int) *page {
	p := &page{data: buf[off:]}
	if len(p.data) < pageHeaderSize {
		return p
	}
	end := (int(p.overflow()) + 1) * pageSize
	if end < len(p.data) && end > 0 {
		p.data = p.data[:end]
	}
	return p
}

func (p *page) id() pgid             { return pgid(binary.LittleEndian.Uint64(p.data[0:8])) }
func (p *page) setID(id pgid)        { binary.LittleEndian.PutUint64(p.data[0:8], uint64(id)) }
func (p *page) flags() PageFlags     { return PageFlags(binary.LittleEndian.Uint16(p.data[8:10])) }
func (p *page) setFlags(f PageFlags) { binary.LittleEndian.PutUint16(p.data[8:10], uint16(f)) }
func (p *page) count() uint16        { return binary.LittleEndian.Uint16(p.data[10:12]) }
func (p *page) setCount(n uint16)    { binary.LittleEndian.PutUint16(p.data[10:12], n) }
func (p *page) overflow() uint32     { return binary.LittleEndian.Uint32(p.data[12:16]) }
func (p *page) setOverflow(n uint32) { binary.LittleEndian.PutUint32(p.data[12:16], n) }
func (p *page) isLeaf() bool         { return p.flags()&PageLeaf != 0 }
func (p *page) isBranch() bool       { return p.flags()&PageBranch != 0 }
func (p *page) typ() string          { return p.flags().String() }
func (p *page) payload() []byte      { return p.data[pageHeaderSize:] }

// leafPageElement is a decoded leaf element header. key and value alias the
// page bytes.
type leafPageElement struct {
	flags ElementFlags
	pos   uint32
	ksize uint32
	vsize uint32
	key   []byte
	value []byte
}

func (e *leafPageElement) isBucket() bool { return e.flags&BucketLeafFlag != 0 }

// leafPageElement decodes element index.
func (p *page) leafPageElement(index uint16) leafPageElement {
	off := pageHeaderSize + int(index)*leafPageElementSize
	b := p.data[off : off+leafPageElementSize]
	e := leafPageElement{
		flags: ElementFlags(binary.LittleEndian.Uint32(b[0:4])),
		pos:   binary.LittleEndian.Uint32(b[4:8]),
		ksize: binary.LittleEndian.Uint32(b[8:12]),
		vsize: binary.LittleEndian.Uint32(b[12:16]),
	}
	kstart := off + int(e.pos)
	kend := kstart + int(e.ksize)
	e.key = p.data[kstart:kend:kend]
	vend := kend + int(e.vsize)
	e.value = p.data[kend:vend:vend]
	return e
}

// leafKey returns only the key of element index.
func (p *page) leafKey(index uint16) []byte {
	off := pageHeaderSize + int(index)*leafPageElementSize
	pos := int(binary.LittleEndian.Uint32(p.data[off+4 : off+8]))
	ksize := int(binary.LittleEndian.Uint32(p.data[off+8 : off+12]))
	return p.data[off+pos : off+pos+ksize : off+pos+ksize]
}

func (p *page) putLeafElement(index uint16, flags ElementFlags, pos, ksize, vsize uint32) {
	off := pageHeaderSize + int(index)*leafPageElementSize
	b := p.data[off : off+leafPageElementSize]
	binary.LittleEndian.PutUint32(b[0:4], uint32(flags))
	binary.LittleEndian.PutUint32(b[4:8], pos)
	binary.LittleEndian.PutUint32(b[8:12], ksize)
	binary.LittleEndian.PutUint32(b[12:16], vsize)
}

// branchPageElement is a decoded branch element header.
type branchPageElement struct {
	pos   uint32
	ksize uint32
	pgid  pgid
	key   []byte
}

func (p *page) branchPageElement(index uint16) branchPageElement {
	off := pageHeaderSize + int(index)*branchPageElementSize
	b := p.data[off : off+branchPageElementSize]
	e := branchPageElement{
		pos:   binary.LittleEndian.Uint32(b[0:4]),
		ksize: binary.LittleEndian.Uint32(b[4:8]),
		pgid:  pgid(binary.LittleEndian.Uint64(b[8:16])),
	}
	kstart := off + int(e.pos)
	kend := kstart + int(e.ksize)
	e.key = p.data[kstart:kend:kend]
	return e
}

// branchKey returns only the key of element index.
func (p *page) branchKey(index uint16) []byte {
	off := pageHeaderSize + int(index)*branchPageElementSize
	pos := int(binary.LittleEndian.Uint32(p.data[off : off+4]))
	ksize := int(binary.LittleEndian.Uint32(p.data[off+4 : off+8]))
	return p.data[off+pos : off+pos+ksize : off+pos+ksize]
}

// branchPgid returns only the child id of element index.
func (p *page) branchPgid(index uint16) pgid {
	off := pageHeaderSize + int(index)*branchPageElementSize
	return pgid(binary.LittleEndian.Uint64(p.data[off+8 : off+16]))
}

func (p *page) putBranchElement(index uint16, pos, ksize uint32, id pgid) {
	off := pageHeaderSize + int(index)*branchPageElementSize
	b := p.data[off : off+branchPageElementSize]
	binary.LittleEndian.PutUint32(b[0:4], pos)
	binary.LittleEndian.PutUint32(b[4:8], ksize)
	binary.LittleEndian.PutUint64(b[8:16], uint64(id))
}

// freelistPageCount returns the index of the first id and the number of ids
// stored on a freelist page.
func (p *page) freelistPageCount() (int, int) {
	_assert(p.flags() == PageFreelist, "can't get freelist page count from a non-freelist page: %2x", uint16(p.flags()))
	idx, count := 0, int(p.count())
	if count == freelistCountOverflow {
		idx = 1
		count = int(binary.LittleEndian.Uint64(p.data[pageHeaderSize : pageHeaderSize+8]))
		_assert(count >= 0, "leading element count %d overflows int", count)
	}
	return idx, count
}

// freelistPageIDs decodes the page ids on a freelist page.
func (p *page) freelistPageIDs() []pgid {
	idx, count := p.freelistPageCount()
	if count == 0 {
		return nil
	}
	ids := make([]pgid, count)
	base := pageHeaderSize + idx*8
	for i := range ids {
		off := base + i*8
		ids[i] = pgid(binary.LittleEndian.Uint64(p.data[off : off+8]))
	}
	return ids
}

func (p *page) hexdump(n int) {
	if n > len(p.data) {
		n = len(p.data)
	}
	fmt.Fprintf(os.Stderr, "%x\n", p.data[:n])
}

// PageInfo represents human readable information about a page.
type PageInfo struct {
	ID            int
	Type          string
	Count         int
	OverflowCount int
}

func unknownPageType(flags uint16) string {
	return fmt.Sprintf("unknown<%02x>", flags)
}

type pgids []pgid

func (s pgids) Len() int           { return len(s) }
func (s pgids) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s pgids) Less(i, j int) bool { return s[i] < s[j] }

// merge returns the sorted union of a and b.
func (a pgids) merge(b pgids) pgids {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	merged := make(pgids, len(a)+len(b))
	mergepgids(merged, a, b)
	return merged
}

// mergepgids copies the sorted union of a and b into dst.
// If dst is too small, it panics.
func mergepgids(dst, a, b pgids) {
	_assert(len(dst) >= len(a)+len(b), "mergepgids bad len %d < %d + %d", len(dst), len(a), len(b))
	if len(a) == 0 {
		copy(dst, b)
		return
	}
	if len(b) == 0 {
		copy(dst, a)
		return
	}

	// Merged will hold all elements from both lists.
	merged := dst[:0]

	// Assign lead to the slice with a lower starting value, follow to the higher value.
	lead, follow := a, b
	if b[0] < a[0] {
		lead, follow = b, a
	}

	// Continue while there are elements in the lead.
	for len(lead) > 0 {
		// Merge largest prefix of lead that is ahead of follow[0].
		n := sort.Search(len(lead), func(i int) bool { return lead[i] > follow[0] })
		merged = append(merged, lead[:n]...)
		if n >= len(lead) {
			break
		}

		// Swap lead and follow.
		lead, follow = follow, lead[n:]
	}

	// Append what's left in follow.
	_ = append(merged, follow...)
}
