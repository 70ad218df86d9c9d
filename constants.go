package gbolt

import "time"

// Database format constants - must match bolt for file compatibility
const (
	// Magic identifies gbolt (and bolt) data files
	Magic uint32 = 0xED0CDAED

	// Version is the data file format version
	Version uint32 = 2

	// IgnoreNoSync, when true, makes NoSync a no-op. Platforms without a unified
	// buffer cache need the fsync to keep the mmap coherent with writes.
	IgnoreNoSync = false
)

// Key and value limits
const (
	// MaxKeySize is the maximum length of a key, in bytes
	MaxKeySize = 32768

	// MaxValueSize is the maximum length of a value, in bytes
	MaxValueSize = (1 << 31) - 2
)

// Mmap sizing
const (
	// maxMmapStep is the largest step that can be taken when remapping
	maxMmapStep = 1 << 30 // 1GB

	// minMmapSize is the smallest mmap size ever requested
	minMmapSize = 1 << 15 // 32KB

	// maxMapSize is the largest mmap size supported
	maxMapSize = 0xFFFFFFFFFFFF // 256TB

	// maxAllocSize is the size used when creating array pointers
	maxAllocSize = 0x7FFFFFFF
)

// Tree shape
const (
	// minKeysPerPage is the least number of keys a split may leave in a node
	minKeysPerPage = 2

	// minFillPercent and maxFillPercent bound Bucket.FillPercent
	minFillPercent = 0.1
	maxFillPercent = 1.0

	// DefaultFillPercent is the percentage that split pages are filled.
	// This value can be changed by setting Bucket.FillPercent.
	DefaultFillPercent = 0.5
)

// DB defaults
const (
	// DefaultMaxBatchSize is the default upper bound of functions per batch
	DefaultMaxBatchSize int = 1000

	// DefaultMaxBatchDelay is the default wait before a batch starts
	DefaultMaxBatchDelay = 10 * time.Millisecond

	// DefaultAllocSize is the default file growth step
	DefaultAllocSize = 16 * 1024 * 1024

	// flockRetryInterval is the delay between attempts to take the file lock
	flockRetryInterval = 50 * time.Millisecond
)

// PageFlags define page types
type PageFlags uint16

const (
	// PageBranch indicates a branch (internal) page
	PageBranch PageFlags = 0x01

	// PageLeaf indicates a leaf page
	PageLeaf PageFlags = 0x02

	// PageMeta indicates a meta page
	PageMeta PageFlags = 0x04

	// PageFreelist indicates a freelist page
	PageFreelist PageFlags = 0x10
)

// String returns the page type name used by PageInfo.
func (f PageFlags) String() string {
	switch {
	case f&PageBranch != 0:
		return "branch"
	case f&PageLeaf != 0:
		return "leaf"
	case f&PageMeta != 0:
		return "meta"
	case f&PageFreelist != 0:
		return "freelist"
	}
	return unknownPageType(uint16(f))
}

// ElementFlags are stored on each leaf element
type ElementFlags uint32

const (
	// BucketLeafFlag marks a leaf value that is a nested bucket descriptor
	BucketLeafFlag ElementFlags = 0x01
)
