// Package fastmap provides a fast hash set for integer keys.
// Uses fibonacci hashing for better distribution of sequential keys.
package fastmap

// Uint64Set is a fast hash set of uint64 keys.
// Uses open addressing with linear probing and fibonacci hashing.
// The zero value is an empty set ready to use.
type Uint64Set struct {
	slots []slot
	count int
	mask  uint64
	shift uint
}

type slot struct {
	key  uint64
	used bool // Needed because key=0 might be valid
}

// Fibonacci hash constant: 2^64 / golden ratio
const fibHash64 = 11400714819323198485

// hash computes a fast hash using fibonacci hashing. The high bits carry the
// best mix, so the product is shifted down to the table width.
func (s *Uint64Set) hash(key uint64) uint64 {
	return (key * fibHash64) >> s.shift
}

// Has returns true if key is in the set.
func (s *Uint64Set) Has(key uint64) bool {
	if s.count == 0 {
		return false
	}
	idx := s.hash(key)
	for {
		sl := &s.slots[idx]
		if !sl.used {
			return false
		}
		if sl.key == key {
			return true
		}
		idx = (idx + 1) & s.mask
	}
}

// Add inserts key. Returns false if it was already present.
func (s *Uint64Set) Add(key uint64) bool {
	if len(s.slots) == 0 {
		s.resize(16)
	} else if s.count >= len(s.slots)*3/4 {
		s.resize(len(s.slots) * 2)
	}

	idx := s.hash(key)
	for {
		sl := &s.slots[idx]
		if !sl.used {
			sl.key = key
			sl.used = true
			s.count++
			return true
		}
		if sl.key == key {
			return false
		}
		idx = (idx + 1) & s.mask
	}
}

// Delete removes key. Returns false if it was not present.
// Uses backward-shift deletion so no tombstones are left behind.
func (s *Uint64Set) Delete(key uint64) bool {
	if s.count == 0 {
		return false
	}
	idx := s.hash(key)
	for {
		sl := &s.slots[idx]
		if !sl.used {
			return false
		}
		if sl.key == key {
			break
		}
		idx = (idx + 1) & s.mask
	}

	// Shift following entries of the probe chain back into the hole.
	hole := idx
	next := (hole + 1) & s.mask
	for s.slots[next].used {
		home := s.hash(s.slots[next].key)
		// Move the entry if its home slot is not in the cyclic range (hole, next].
		if (next-home)&s.mask >= (next-hole)&s.mask {
			s.slots[hole] = s.slots[next]
			hole = next
		}
		next = (next + 1) & s.mask
	}
	s.slots[hole] = slot{}
	s.count--
	return true
}

// resize rebuilds the table with n slots (n is a power of two).
func (s *Uint64Set) resize(n int) {
	old := s.slots
	s.slots = make([]slot, n)
	s.mask = uint64(n - 1)
	s.shift = 64
	for size := n; size > 1; size >>= 1 {
		s.shift--
	}
	s.count = 0

	for i := range old {
		if old[i].used {
			s.Add(old[i].key)
		}
	}
}

// ForEach calls fn for every key in unspecified order.
func (s *Uint64Set) ForEach(fn func(uint64)) {
	for i := range s.slots {
		if s.slots[i].used {
			fn(s.slots[i].key)
		}
	}
}

// Clear removes all entries but keeps the backing array.
func (s *Uint64Set) Clear() {
	clear(s.slots)
	s.count = 0
}

// Len returns the number of entries.
func (s *Uint64Set) Len() int {
	return s.count
}
