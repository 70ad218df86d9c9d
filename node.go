package gbolt

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Giulio2002/gbolt/internal/byteview"
)

// nodeRef indexes a node in its transaction's node arena.
type nodeRef int32

// noNode is the nodeRef of a missing parent.
const noNode nodeRef = -1

// maxNodeElements is the largest element count a single page header can carry.
const maxNodeElements = 0xFFFF - 1

// node represents an in-memory, deserialized page.
//
// Nodes live in the owning transaction's arena. The parent/child relation is
// kept as arena indexes so the tree holds no reference cycles; the bucket
// pointer is a plain back-reference that never outlives the transaction.
type node struct {
	bucket     *Bucket
	isLeaf     bool
	unbalanced bool
	spilled    bool
	key        []byte // first key, used to find the node in its parent
	pgid       pgid
	self       nodeRef
	parent     nodeRef
	children   []nodeRef // materialized children, used for spill tracking
	inodes     inodes
}

// newNode registers n in the transaction arena and returns it. n.parent must
// already be set, to noNode for a root.
func (tx *Tx) newNode(n *node) *node {
	n.self = nodeRef(len(tx.nodes))
	tx.nodes = append(tx.nodes, n)
	tx.stats.NodeCount++
	return n
}

// nodeAt resolves a ref in the arena.
func (tx *Tx) nodeAt(ref nodeRef) *node {
	if ref == noNode {
		return nil
	}
	return tx.nodes[ref]
}

func (n *node) tx() *Tx { return n.bucket.tx }

// parentNode returns the parent or nil for a root.
func (n *node) parentNode() *node {
	return n.tx().nodeAt(n.parent)
}

// root returns the top-level node this node is attached to.
func (n *node) root() *node {
	p := n.parentNode()
	if p == nil {
		return n
	}
	return p.root()
}

// minKeys returns the minimum number of inodes this node should have.
func (n *node) minKeys() int {
	if n.isLeaf {
		return 1
	}
	return 2
}

// size returns the size of the node after serialization.
func (n *node) size() int {
	sz, elsz := pageHeaderSize, n.pageElementSize()
	for i := 0; i < len(n.inodes); i++ {
		item := &n.inodes[i]
		sz += elsz + len(item.key) + len(item.value)
	}
	return sz
}

// sizeLessThan returns true if the node is less than a given size.
// This is an optimization to avoid calculating a large node when we only need
// to know if it fits inside a certain page size.
func (n *node) sizeLessThan(v int) bool {
	sz, elsz := pageHeaderSize, n.pageElementSize()
	for i := 0; i < len(n.inodes); i++ {
		item := &n.inodes[i]
		sz += elsz + len(item.key) + len(item.value)
		if sz >= v {
			return false
		}
	}
	return true
}

// pageElementSize returns the size of each page element based on the type of node.
func (n *node) pageElementSize() int {
	if n.isLeaf {
		return leafPageElementSize
	}
	return branchPageElementSize
}

// childAt returns the child node at a given index.
func (n *node) childAt(index int) *node {
	_assert(!n.isLeaf, "invalid childAt(%d) on a leaf node", index)
	return n.bucket.node(n.inodes[index].pgid, n)
}

// childIndex returns the index of a given child node.
func (n *node) childIndex(child *node) int {
	index := sort.Search(len(n.inodes), func(i int) bool { return bytes.Compare(n.inodes[i].key, child.key) != -1 })
	return index
}

// numChildren returns the number of children.
func (n *node) numChildren() int {
	return len(n.inodes)
}

// nextSibling returns the next node with the same parent.
func (n *node) nextSibling() *node {
	parent := n.parentNode()
	if parent == nil {
		return nil
	}
	index := parent.childIndex(n)
	if index >= parent.numChildren()-1 {
		return nil
	}
	return parent.childAt(index + 1)
}

// prevSibling returns the previous node with the same parent.
func (n *node) prevSibling() *node {
	parent := n.parentNode()
	if parent == nil {
		return nil
	}
	index := parent.childIndex(n)
	if index == 0 {
		return nil
	}
	return parent.childAt(index - 1)
}

// search returns the index of the first inode whose key is >= key and
// whether it is an exact match.
func (n *node) search(key []byte) (int, bool) {
	index := sort.Search(len(n.inodes), func(i int) bool { return bytes.Compare(n.inodes[i].key, key) != -1 })
	exact := index < len(n.inodes) && bytes.Equal(n.inodes[index].key, key)
	return index, exact
}

// get returns the value and flags stored under exactly key.
func (n *node) get(key []byte) ([]byte, ElementFlags, bool) {
	index, exact := n.search(key)
	if !exact {
		return nil, 0, false
	}
	return n.inodes[index].value, n.inodes[index].flags, true
}

// put inserts a key/value. When oldKey exists its entry is overwritten in
// place, which also renames it to newKey.
func (n *node) put(oldKey, newKey, value []byte, id pgid, flags ElementFlags) {
	_assert(id < n.tx().meta.pgid, "pgid (%d) above high water mark (%d)", id, n.tx().meta.pgid)
	_assert(len(oldKey) > 0, "put: zero-length old key")
	_assert(len(newKey) > 0, "put: zero-length new key")

	// Find insertion index.
	index, exact := n.search(oldKey)

	// Add capacity and shift nodes if we don't have an exact match and need to insert.
	if !exact {
		n.inodes = append(n.inodes, inode{})
		copy(n.inodes[index+1:], n.inodes[index:])
	}

	in := &n.inodes[index]
	in.flags = flags
	in.key = newKey
	in.value = value
	in.pgid = id
	_assert(len(in.key) > 0, "put: zero-length inode key")
}

// del removes a key from the node.
func (n *node) del(key []byte) {
	index, exact := n.search(key)
	if !exact {
		return
	}

	n.inodes = append(n.inodes[:index], n.inodes[index+1:]...)

	// Mark the node as needing rebalancing.
	n.unbalanced = true
}

// read initializes the node from a page. Keys and values alias the page.
func (n *node) read(p *page) {
	n.pgid = p.id()
	n.isLeaf = p.isLeaf()
	n.inodes = make(inodes, int(p.count()))

	for i := 0; i < int(p.count()); i++ {
		in := &n.inodes[i]
		if n.isLeaf {
			elem := p.leafPageElement(uint16(i))
			in.flags = elem.flags
			in.key = elem.key
			in.value = elem.value
		} else {
			elem := p.branchPageElement(uint16(i))
			in.pgid = elem.pgid
			in.key = elem.key
		}
		_assert(len(in.key) > 0, "read: zero-length inode key")
	}

	// Save first key so we can find the node in the parent when we spill.
	if len(n.inodes) > 0 {
		n.key = n.inodes[0].key
		_assert(len(n.key) > 0, "read: zero-length node key")
	} else {
		n.key = nil
	}
}

// write writes the items onto one or more pages.
// The page should have its id set (0 for an inline page) and the rest zeroed.
func (n *node) write(p *page) {
	_assert(p.count() == 0 && p.flags() == 0, "node cannot be written into a not empty page")

	if n.isLeaf {
		p.setFlags(PageLeaf)
	} else {
		p.setFlags(PageBranch)
	}

	if len(n.inodes) >= freelistCountOverflow {
		panic(fmt.Sprintf("inode overflow: %d (pgid=%d)", len(n.inodes), p.id()))
	}
	p.setCount(uint16(len(n.inodes)))

	// Stop here if there are no items to write.
	if len(n.inodes) == 0 {
		return
	}

	// off tracks the offset into p of the start of the next data.
	elsz := n.pageElementSize()
	off := pageHeaderSize + elsz*len(n.inodes)
	for i, item := range n.inodes {
		_assert(len(item.key) > 0, "write: zero-length inode key")

		elemOff := pageHeaderSize + i*elsz
		pos := uint32(off - elemOff)
		if n.isLeaf {
			p.putLeafElement(uint16(i), item.flags, pos, uint32(len(item.key)), uint32(len(item.value)))
		} else {
			_assert(item.pgid != p.id(), "write: circular dependency occurred")
			p.putBranchElement(uint16(i), pos, uint32(len(item.key)), item.pgid)
		}

		// Write data for the element to the end of the page.
		off += copy(p.data[off:], item.key)
		off += copy(p.data[off:], item.value)
	}
}

// split breaks up a node into multiple smaller nodes, if appropriate.
// This should only be called from the spill() function.
func (n *node) split(pageSize int) []*node {
	var nodes []*node

	current := n
	for {
		// Split node into two.
		a, b := current.splitTwo(pageSize)
		nodes = append(nodes, a)

		// If we can't split then exit the loop.
		if b == nil {
			break
		}

		// Set node to b so it gets split on the next iteration.
		current = b
	}

	return nodes
}

// splitTwo breaks up a node into two smaller nodes, if appropriate.
// This should only be called from the split() function.
func (n *node) splitTwo(pageSize int) (*node, *node) {
	// Ignore the split if the page doesn't have at least enough nodes for
	// two pages or if the nodes can fit in a single page.
	if len(n.inodes) <= (minKeysPerPage*2) || (len(n.inodes) <= maxNodeElements && n.sizeLessThan(pageSize)) {
		return n, nil
	}

	// Determine the threshold before starting a new node.
	var fillPercent = n.bucket.FillPercent
	if fillPercent < minFillPercent {
		fillPercent = minFillPercent
	} else if fillPercent > maxFillPercent {
		fillPercent = maxFillPercent
	}
	threshold := int(float64(pageSize) * fillPercent)

	// Determine split position and sizes of the two pages.
	splitIndex, _ := n.splitIndex(threshold)

	// Split node into two separate nodes.
	// If there's no parent then we'll need to create one.
	tx := n.tx()
	if n.parent == noNode {
		parent := tx.newNode(&node{bucket: n.bucket, parent: noNode, children: []nodeRef{n.self}})
		n.parent = parent.self
	}

	// Create a new node and add it to the parent.
	next := tx.newNode(&node{bucket: n.bucket, isLeaf: n.isLeaf, parent: n.parent})
	parent := n.parentNode()
	parent.children = append(parent.children, next.self)

	// Split inodes across two nodes.
	next.inodes = n.inodes[splitIndex:]
	n.inodes = n.inodes[:splitIndex]

	// Update the statistics.
	tx.stats.Split++

	return n, next
}

// splitIndex finds the position where a page will fill a given threshold.
// It returns the index as well as the size of the first page.
// This is only be called from split().
func (n *node) splitIndex(threshold int) (index, sz int) {
	sz = pageHeaderSize

	// Loop until we only have the minimum number of keys required for the second page.
	for i := 0; i < len(n.inodes)-minKeysPerPage; i++ {
		index = i
		in := n.inodes[i]
		elsize := n.pageElementSize() + len(in.key) + len(in.value)

		// If we have at least the minimum number of keys and adding another
		// node would put us over the threshold then exit and return.
		if index >= minKeysPerPage && (sz+elsize > threshold || index >= maxNodeElements) {
			break
		}

		// Add the element size to the total size.
		sz += elsize
	}

	return
}

// spill writes the nodes to dirty pages and splits nodes as it goes.
// Returns an error if dirty pages cannot be allocated.
func (n *node) spill() error {
	var tx = n.tx()
	if n.spilled {
		return nil
	}

	// Spill child nodes first. Child nodes can materialize sibling nodes in
	// the case of split-merge so we cannot use a range loop. We have to check
	// the children size on every loop iteration.
	sort.Slice(n.children, func(i, j int) bool {
		a, b := tx.nodes[n.children[i]], tx.nodes[n.children[j]]
		return bytes.Compare(a.inodes[0].key, b.inodes[0].key) == -1
	})
	for i := 0; i < len(n.children); i++ {
		if err := tx.nodes[n.children[i]].spill(); err != nil {
			return err
		}
	}

	// We no longer need the child list because it's only used for spill tracking.
	n.children = nil

	// Split nodes into appropriate sizes. The first node will always be n.
	var nodes = n.split(tx.db.pageSize)
	for _, nd := range nodes {
		// Add node's page to the freelist if it's not new.
		if nd.pgid > 0 {
			tx.db.freelist.free(tx.meta.txid, tx.page(nd.pgid))
			nd.pgid = 0
		}

		// Allocate contiguous space for the node.
		p, err := tx.allocate((nd.size() + tx.db.pageSize - 1) / tx.db.pageSize)
		if err != nil {
			return err
		}

		// Write the node.
		_assert(p.id() < tx.meta.pgid, "pgid (%d) above high water mark (%d)", p.id(), tx.meta.pgid)
		nd.pgid = p.id()
		nd.write(p)
		nd.spilled = true

		// Insert into parent inodes.
		if parent := nd.parentNode(); parent != nil {
			var key = nd.key
			if key == nil {
				key = nd.inodes[0].key
			}

			parent.put(key, nd.inodes[0].key, nil, nd.pgid, 0)
			nd.key = nd.inodes[0].key
			_assert(len(nd.key) > 0, "spill: zero-length node key")
		}

		// Update the statistics.
		tx.stats.Spill++
	}

	// If the root node split and created a new root then we need to spill that
	// as well. We'll clear out the children to make sure it doesn't try to respill.
	if parent := n.parentNode(); parent != nil && parent.pgid == 0 {
		n.children = nil
		return parent.spill()
	}

	return nil
}

// rebalance attempts to combine the node with sibling nodes if the node fill
// size is below a threshold or if there are not enough keys.
func (n *node) rebalance() {
	if !n.unbalanced {
		return
	}
	n.unbalanced = false

	tx := n.tx()
	tx.stats.Rebalance++

	// Ignore if node is above threshold (25%) and has enough keys.
	var threshold = tx.db.pageSize / 4
	if n.size() > threshold && len(n.inodes) > n.minKeys() {
		return
	}

	parent := n.parentNode()

	// Root node has special handling.
	if parent == nil {
		// If root node is a branch and only has one node then collapse it.
		if !n.isLeaf && len(n.inodes) == 1 {
			// Move root's child up.
			child := n.bucket.node(n.inodes[0].pgid, n)
			n.isLeaf = child.isLeaf
			n.inodes = child.inodes[:]
			n.children = child.children

			// Reparent all child nodes being moved.
			for _, in := range n.inodes {
				if c, ok := n.bucket.nodes[in.pgid]; ok {
					c.parent = n.self
				}
			}

			// Remove old child.
			child.parent = noNode
			delete(n.bucket.nodes, child.pgid)
			child.free()
		}

		return
	}

	// If node has no keys then just remove it.
	if n.numChildren() == 0 {
		parent.del(n.key)
		parent.removeChild(n)
		delete(n.bucket.nodes, n.pgid)
		n.free()
		parent.rebalance()
		return
	}

	_assert(parent.numChildren() > 1, "parent must have at least 2 children")

	// The sibling is the right one for the first child, otherwise the left one.
	var target *node
	var useNextSibling = parent.childIndex(n) == 0
	if useNextSibling {
		target = n.nextSibling()
	} else {
		target = n.prevSibling()
	}

	// The node with fewer keys is absorbed by the one with more. Ties keep
	// the left node so key order maps directly to append order.
	left, right := target, n
	if useNextSibling {
		left, right = n, target
	}
	if len(right.inodes) <= len(left.inodes) {
		left.absorb(right, false)
	} else {
		right.absorb(left, true)
	}

	// Either this node or the target node was deleted from the parent so rebalance it.
	parent.rebalance()
}

// absorb moves every inode of src into n and removes src from the tree.
// src sits directly left of n when prepend is set, directly right otherwise.
// n keeps its old key so spill can rename its entry in the parent.
func (n *node) absorb(src *node, prepend bool) {
	tx := n.tx()

	// Reparent all child nodes being moved.
	for _, in := range src.inodes {
		if child, ok := n.bucket.nodes[in.pgid]; ok {
			if old := child.parentNode(); old != nil {
				old.removeChild(child)
			}
			child.parent = n.self
			n.children = append(n.children, child.self)
		}
	}

	if prepend {
		merged := make(inodes, 0, len(src.inodes)+len(n.inodes))
		merged = append(merged, src.inodes...)
		n.inodes = append(merged, n.inodes...)
	} else {
		n.inodes = append(n.inodes, src.inodes...)
	}

	parent := tx.nodeAt(src.parent)
	parent.del(src.key)
	parent.removeChild(src)
	delete(n.bucket.nodes, src.pgid)
	src.free()
}

// removeChild removes a node from the list of in-memory children.
// This does not affect the inodes.
func (n *node) removeChild(target *node) {
	for i, child := range n.children {
		if child == target.self {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// dereference causes the node to copy all its inode key/value references to heap memory.
// This is required when the mmap is reallocated so inodes are not pointing to stale data.
func (n *node) dereference() {
	if n.key != nil {
		n.key = byteview.View(n.key).Owned()
		_assert(n.pgid == 0 || len(n.key) > 0, "dereference: zero-length node key on existing node")
	}

	for i := range n.inodes {
		in := &n.inodes[i]

		in.key = byteview.View(in.key).Owned()
		_assert(len(in.key) > 0, "dereference: zero-length inode key")

		in.value = byteview.View(in.value).Owned()
	}

	// Recursively dereference children.
	tx := n.tx()
	for _, child := range n.children {
		tx.nodes[child].dereference()
	}

	tx.stats.NodeDeref++
}

// free adds the node's underlying page to the freelist.
func (n *node) free() {
	if n.pgid != 0 {
		tx := n.tx()
		tx.db.freelist.free(tx.meta.txid, tx.page(n.pgid))
		n.pgid = 0
	}
}

// inode represents an internal node inside of a node.
// It can be used to point to elements in a page or point
// to an element which hasn't been added to a page yet.
type inode struct {
	flags ElementFlags
	pgid  pgid // child page, branch only
	key   []byte
	value []byte // leaf only
}

type inodes []inode
