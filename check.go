package gbolt

import (
	"bytes"
	"fmt"

	"github.com/Giulio2002/gbolt/internal/bitmap"
	"github.com/Giulio2002/gbolt/internal/byteview"
)

// Check performs several consistency checks on the database for this transaction.
// An error is returned if any inconsistency is found.
//
// It can be safely run concurrently on a writable transaction. However, this
// incurs a high cost for large databases and databases with a lot of subbuckets
// because of caching. This overhead can be removed if running on a read-only
// transaction, however, it is not safe to execute other writer transactions at
// the same time.
func (tx *Tx) Check() <-chan error {
	ch := make(chan error)
	go func() {
		defer close(ch)
		tx.check(ch)
	}()
	return ch
}

// checker carries the page bookkeeping of one Check run.
type checker struct {
	tx        *Tx
	ch        chan<- error
	freed     *bitmap.Bitmap
	reachable *bitmap.Bitmap
}

func (tx *Tx) check(ch chan<- error) {
	hwm := uint64(tx.meta.pgid)
	c := &checker{
		tx:        tx,
		ch:        ch,
		freed:     bitmap.New(hwm),
		reachable: bitmap.New(hwm),
	}

	// Check if any pages are double freed.
	all := make([]pgid, tx.db.freelist.count())
	tx.db.freelist.copyall(all)
	for _, id := range all {
		if uint64(id) >= hwm {
			ch <- fmt.Errorf("page %d: free page out of bounds: %d", id, hwm)
			continue
		}
		if c.freed.Set(uint64(id)) {
			ch <- fmt.Errorf("page %d: already freed", id)
		}
	}

	// Track every reachable page.
	c.reachable.Set(0) // meta0
	c.reachable.Set(1) // meta1
	fl := tx.page(tx.meta.freelist)
	for i := uint32(0); i <= fl.overflow(); i++ {
		c.reachable.Set(uint64(tx.meta.freelist) + uint64(i))
	}

	// Recursively check buckets.
	c.checkBucket(&tx.root)

	// Ensure all pages below high water mark are either reachable or freed.
	c.reachable.ForEachClear(func(id uint64) {
		if !c.freed.Has(id) {
			ch <- fmt.Errorf("page %d: unreachable unfreed", id)
		}
	})
}

func (c *checker) checkBucket(b *Bucket) {
	// Ignore inline buckets.
	if b.root == 0 {
		return
	}

	hwm := c.tx.meta.pgid

	// Check every page used by this bucket.
	c.tx.forEachPage(b.root, func(p *page, _ int, stack []pgid) {
		if p.id() >= hwm {
			c.ch <- fmt.Errorf("page %d: out of bounds: %d (stack: %v)", p.id(), hwm, stack)
			return
		}

		// Ensure each page is only referenced once.
		for i := pgid(0); i <= pgid(p.overflow()); i++ {
			var id = p.id() + i
			if c.reachable.Set(uint64(id)) {
				c.ch <- fmt.Errorf("page %d: multiple references (stack: %v)", id, stack)
			}
		}

		// We should only encounter un-freed leaf and branch pages.
		if c.freed.Has(uint64(p.id())) {
			c.ch <- fmt.Errorf("page %d: reachable freed", p.id())
		} else if !p.isBranch() && !p.isLeaf() {
			c.ch <- fmt.Errorf("page %d: invalid type: %s (stack: %v)", p.id(), p.typ(), stack)
		}
	})

	c.checkKeyOrder(b.root, nil, nil, nil)

	// Check each bucket within this bucket.
	_ = b.ForEachBucket(func(k []byte) error {
		if child := b.Bucket(k); child != nil {
			c.checkBucket(child)
		}
		return nil
	})
}

// checkKeyOrder verifies that keys on page id and below are strictly
// ascending and fall within [minKey, maxKey). It returns the largest key
// found in the subtree.
func (c *checker) checkKeyOrder(id pgid, minKey, maxKey []byte, stack []pgid) (maxInSubtree []byte) {
	if id >= c.tx.meta.pgid {
		return nil
	}
	p := c.tx.page(id)
	stack = append(stack, id)

	switch {
	case p.isBranch():
		running := minKey
		for i := 0; i < int(p.count()); i++ {
			key := p.branchKey(uint16(i))
			c.verifyKeyOrder(id, "branch", i, key, running, maxKey, stack)
			upper := maxKey
			if i < int(p.count())-1 {
				upper = p.branchKey(uint16(i + 1))
			}
			maxInSubtree = c.checkKeyOrder(p.branchPgid(uint16(i)), key, upper, stack)
			running = maxInSubtree
		}
		return maxInSubtree
	case p.isLeaf():
		running := minKey
		for i := 0; i < int(p.count()); i++ {
			key := p.leafKey(uint16(i))
			c.verifyKeyOrder(id, "leaf", i, key, running, maxKey, stack)
			running = key
		}
		if p.count() > 0 {
			return p.leafKey(p.count() - 1)
		}
	default:
		c.ch <- fmt.Errorf("unexpected page type (flags: %x) for pgid: %d", uint16(p.flags()), id)
	}
	return maxInSubtree
}

// verifyKeyOrder reports an element whose key falls outside (previous, maxKey).
func (c *checker) verifyKeyOrder(id pgid, pageType string, index int, key, previous, maxKey []byte, stack []pgid) {
	if index == 0 && previous != nil && bytes.Compare(previous, key) > 0 {
		c.ch <- fmt.Errorf("the first key[%d]=(hex)%s on %s page(%d) needs to be >= the key in the ancestor (%s). Stack: %v",
			index, byteview.View(key).Hex(), pageType, id, byteview.View(previous).Hex(), stack)
	}
	if index > 0 {
		if cmp := bytes.Compare(previous, key); cmp >= 0 {
			c.ch <- fmt.Errorf("key[%d]=(hex)%s on %s page(%d) needs to be > than previous element (hex)%s. Stack: %v",
				index, byteview.View(key).Hex(), pageType, id, byteview.View(previous).Hex(), stack)
		}
	}
	if maxKey != nil && bytes.Compare(key, maxKey) >= 0 {
		c.ch <- fmt.Errorf("key[%d]=(hex)%s on %s page(%d) needs to be < than key of the next element in ancestor (hex)%s. Stack: %v",
			index, byteview.View(key).Hex(), pageType, id, byteview.View(maxKey).Hex(), stack)
	}
}
