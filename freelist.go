package gbolt

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Giulio2002/gbolt/internal/fastmap"
)

// freelist represents a list of all pages that are available for allocation.
// It also tracks pages that have been freed but are still in use by open
// transactions.
type freelist struct {
	ids     []pgid            // all free and available free page ids, sorted
	pending map[txid][]pgid   // mapping of soon-to-be free page ids by tx
	cache   fastmap.Uint64Set // fast lookup of all free and pending page ids
}

// newFreelist returns an empty, initialized freelist.
func newFreelist() *freelist {
	return &freelist{
		pending: make(map[txid][]pgid),
	}
}

// size returns the size of the page after serialization.
func (f *freelist) size() int {
	n := f.count()
	if n >= freelistCountOverflow {
		// The first element will be used to store the count. See freelist.write.
		n++
	}
	return pageHeaderSize + 8*n
}

// count returns count of pages on the freelist
func (f *freelist) count() int {
	return f.freeCount() + f.pendingCount()
}

// freeCount returns count of free pages
func (f *freelist) freeCount() int {
	return len(f.ids)
}

// pendingCount returns count of pending pages
func (f *freelist) pendingCount() int {
	var count int
	for _, list := range f.pending {
		count += len(list)
	}
	return count
}

// copyall copies into dst a list of all free ids and all pending ids in one
// sorted list. f.count returns the minimum length required for dst.
func (f *freelist) copyall(dst []pgid) {
	m := make(pgids, 0, f.pendingCount())
	for _, list := range f.pending {
		m = append(m, list...)
	}
	sort.Sort(m)
	mergepgids(dst, f.ids, m)
}

// allocate returns the starting page id of the first contiguous run of n
// free pages. Returns 0 if no run is long enough.
func (f *freelist) allocate(n int) pgid {
	if len(f.ids) == 0 || n <= 0 {
		return 0
	}

	var initial, previd pgid
	for i, id := range f.ids {
		_assert(id > 1, "invalid page allocation: %d", id)

		// Reset initial page if this is not contiguous.
		if previd == 0 || id-previd != 1 {
			initial = id
		}

		// If we found a contiguous block then remove it and return it.
		if (id-initial)+1 == pgid(n) {
			// If we're allocating off the beginning then take the fast path
			// and just adjust the existing slice. This will use extra memory
			// temporarily but the append() in free() will realloc the slice
			// as is necessary.
			if (i + 1) == n {
				f.ids = f.ids[i+1:]
			} else {
				copy(f.ids[i-n+1:], f.ids[i+1:])
				f.ids = f.ids[:len(f.ids)-n]
			}

			// Remove from the free cache.
			for i := pgid(0); i < pgid(n); i++ {
				f.cache.Delete(uint64(initial + i))
			}

			return initial
		}

		previd = id
	}
	return 0
}

// free releases a page and its overflow for a given transaction id.
// If the page is already free then a panic will occur.
func (f *freelist) free(tid txid, p *page) {
	_assert(p.id() > 1, "cannot free page 0 or 1: %d", p.id())

	// Free page and all its overflow pages.
	ids := f.pending[tid]
	for id := p.id(); id <= p.id()+pgid(p.overflow()); id++ {
		// Verify that page is not already free.
		if f.cache.Has(uint64(id)) {
			panic(fmt.Sprintf("page %d already freed", id))
		}

		// Add to the freelist and cache.
		ids = append(ids, id)
		f.cache.Add(uint64(id))
	}
	f.pending[tid] = ids
}

// release moves all page ids for a transaction id (or older) to the freelist.
func (f *freelist) release(tid txid) {
	m := make(pgids, 0)
	for t, ids := range f.pending {
		if t <= tid {
			// Move transaction's pending pages to the available freelist.
			// Don't remove from the cache since the page is still free.
			m = append(m, ids...)
			delete(f.pending, t)
		}
	}
	sort.Sort(m)
	f.ids = pgids(f.ids).merge(m)
}

// rollback removes the pages from a given pending tx.
func (f *freelist) rollback(tid txid) {
	// Remove page ids from cache.
	for _, id := range f.pending[tid] {
		f.cache.Delete(uint64(id))
	}

	// Remove pages from pending list.
	delete(f.pending, tid)
}

// freed returns whether a given page is in the free list.
func (f *freelist) freed(id pgid) bool {
	return f.cache.Has(uint64(id))
}

// read initializes the freelist from a freelist page.
func (f *freelist) read(p *page) {
	ids := p.freelistPageIDs()

	// Copy the list of page ids from the freelist.
	if len(ids) == 0 {
		f.ids = nil
	} else {
		sort.Sort(pgids(ids))
		f.ids = ids
	}

	// Rebuild the page cache.
	f.reindex()
}

// write writes the page ids onto a freelist page. All free and pending ids are
// saved to disk since in the event of a program crash, all pending ids will
// become free.
func (f *freelist) write(p *page) error {
	// Combine the old free pgids and pgids waiting on an open transaction.

	// Update the header flag.
	p.setFlags(p.flags() | PageFreelist)

	// The page.count can only hold up to 64k elements so if we overflow that
	// number then we handle it by putting the size in the first element.
	l := f.count()
	if l == 0 {
		p.setCount(0)
		return nil
	}

	ids := make([]pgid, l)
	f.copyall(ids)

	base := pageHeaderSize
	if l < freelistCountOverflow {
		p.setCount(uint16(l))
	} else {
		p.setCount(freelistCountOverflow)
		binary.LittleEndian.PutUint64(p.data[base:base+8], uint64(l))
		base += 8
	}
	_assert(base+8*l <= len(p.data), "freelist of %d ids overflows page buffer of %d bytes", l, len(p.data))
	for i, id := range ids {
		off := base + i*8
		binary.LittleEndian.PutUint64(p.data[off:off+8], uint64(id))
	}
	return nil
}

// reload reads the freelist from a page and filters out pending items.
func (f *freelist) reload(p *page) {
	f.read(p)

	// Build a cache of only pending pages.
	pcache := make(map[pgid]bool)
	for _, pendingIDs := range f.pending {
		for _, pendingID := range pendingIDs {
			pcache[pendingID] = true
		}
	}

	// Check each page in the freelist and build a new available freelist
	// with any pages not in the pending lists.
	var a []pgid
	for _, id := range f.ids {
		if !pcache[id] {
			a = append(a, id)
		}
	}
	f.ids = a

	// Once the available list is rebuilt then rebuild the free cache so that
	// it includes the available and pending free pages.
	f.reindex()
}

// reindex rebuilds the free cache based on available and pending free lists.
func (f *freelist) reindex() {
	f.cache.Clear()
	for _, id := range f.ids {
		f.cache.Add(uint64(id))
	}
	for _, pendingIDs := range f.pending {
		for _, pendingID := range pendingIDs {
			f.cache.Add(uint64(pendingID))
		}
	}
}
