// Package bitmap provides a dense bitset over page ids.
package bitmap

import "math/bits"

// Bitmap marks page ids in a fixed range [0, Len).
// Uses uint64 words so population counts are a single instruction per word.
type Bitmap struct {
	words []uint64
	n     uint64
}

// New creates a bitmap able to mark ids below n.
func New(n uint64) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of ids the bitmap covers.
func (b *Bitmap) Len() uint64 {
	return b.n
}

// Set marks id and reports whether it was already marked.
// Ids outside the range are ignored and reported as unmarked.
func (b *Bitmap) Set(id uint64) bool {
	if id >= b.n {
		return false
	}
	w, bit := id/64, uint64(1)<<(id%64)
	was := b.words[w]&bit != 0
	b.words[w] |= bit
	return was
}

// Unset clears the mark on id.
func (b *Bitmap) Unset(id uint64) {
	if id >= b.n {
		return
	}
	b.words[id/64] &^= 1 << (id % 64)
}

// Has returns true if id is marked.
func (b *Bitmap) Has(id uint64) bool {
	if id >= b.n {
		return false
	}
	return b.words[id/64]&(1<<(id%64)) != 0
}

// Count returns the number of marked ids.
func (b *Bitmap) Count() uint64 {
	var count int
	for _, word := range b.words {
		count += bits.OnesCount64(word)
	}
	return uint64(count)
}

// Clear unmarks every id.
func (b *Bitmap) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Extend grows the covered range to n. Existing marks are kept.
func (b *Bitmap) Extend(n uint64) {
	if n <= b.n {
		return
	}
	numWords := (n + 63) / 64
	if numWords > uint64(len(b.words)) {
		words := make([]uint64, numWords)
		copy(words, b.words)
		b.words = words
	}
	b.n = n
}

// ForEachClear calls fn for every unmarked id in ascending order.
func (b *Bitmap) ForEachClear(fn func(id uint64)) {
	for w, word := range b.words {
		inv := ^word
		for inv != 0 {
			tz := uint64(bits.TrailingZeros64(inv))
			id := uint64(w)*64 + tz
			if id >= b.n {
				return
			}
			fn(id)
			inv &= inv - 1
		}
	}
}
