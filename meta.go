package gbolt

import (
	"encoding/binary"
	"hash/fnv"
)

// bucket is the persisted descriptor of a bucket. A root of 0 marks an
// inline bucket whose leaf page follows the descriptor in the parent value.
//
// Memory layout (little-endian):
//
//	Offset  Size  Field
//	0       8     root
//	8       8     sequence
type bucket struct {
	root     pgid   // page id of the bucket's root-level page
	sequence uint64 // monotonically incrementing, used by NextSequence()
}

func decodeBucket(b []byte) bucket {
	return bucket{
		root:     pgid(binary.LittleEndian.Uint64(b[0:8])),
		sequence: binary.LittleEndian.Uint64(b[8:16]),
	}
}

func (b *bucket) encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(b.root))
	binary.LittleEndian.PutUint64(dst[8:16], b.sequence)
}

// meta is the decoded form of a meta page payload.
//
// Memory layout (little-endian, after the page header):
//
//	Offset  Size  Field
//	0       4     magic
//	4       4     version
//	8       4     page size
//	12      4     flags
//	16      16    root bucket
//	32      8     freelist pgid
//	40      8     high-water mark pgid
//	48      8     txid
//	56      8     checksum (FNV-1a over bytes 0..55)
type meta struct {
	magic    uint32
	version  uint32
	pageSize uint32
	flags    uint32
	root     bucket
	freelist pgid
	pgid     pgid
	txid     txid
	checksum uint64
}

const metaChecksumOffset = 56

// decodeMeta reads a meta structure from the payload of a meta page.
func decodeMeta(b []byte) *meta {
	_ = b[metaSize-1]
	return &meta{
		magic:    binary.LittleEndian.Uint32(b[0:4]),
		version:  binary.LittleEndian.Uint32(b[4:8]),
		pageSize: binary.LittleEndian.Uint32(b[8:12]),
		flags:    binary.LittleEndian.Uint32(b[12:16]),
		root:     decodeBucket(b[16:32]),
		freelist: pgid(binary.LittleEndian.Uint64(b[32:40])),
		pgid:     pgid(binary.LittleEndian.Uint64(b[40:48])),
		txid:     txid(binary.LittleEndian.Uint64(b[48:56])),
		checksum: binary.LittleEndian.Uint64(b[56:64]),
	}
}

// encode writes the meta into dst, checksum field included as-is.
func (m *meta) encode(dst []byte) {
	_ = dst[metaSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], m.magic)
	binary.LittleEndian.PutUint32(dst[4:8], m.version)
	binary.LittleEndian.PutUint32(dst[8:12], m.pageSize)
	binary.LittleEndian.PutUint32(dst[12:16], m.flags)
	m.root.encode(dst[16:32])
	binary.LittleEndian.PutUint64(dst[32:40], uint64(m.freelist))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(m.pgid))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(m.txid))
	binary.LittleEndian.PutUint64(dst[56:64], m.checksum)
}

// validate checks the magic, then the version, then the checksum.
func (m *meta) validate() error {
	if m.magic != Magic {
		return ErrInvalid
	} else if m.version != Version {
		return ErrVersionMismatch
	} else if m.checksum != m.sum64() {
		return ErrChecksum
	}
	return nil
}

// copy copies one meta object to another.
func (m *meta) copy(dest *meta) {
	*dest = *m
}

// write writes the meta onto a page, recomputing the checksum.
func (m *meta) write(p *page) {
	_assert(m.root.root < m.pgid, "root bucket pgid (%d) above high water mark (%d)", m.root.root, m.pgid)
	_assert(m.freelist < m.pgid, "freelist pgid (%d) above high water mark (%d)", m.freelist, m.pgid)

	// Page id is either going to be 0 or 1 which we can determine by the transaction ID.
	p.setID(pgid(m.txid % 2))
	p.setFlags(p.flags() | PageMeta)

	m.checksum = m.sum64()
	m.encode(p.payload())
}

// sum64 generates the checksum for the meta.
func (m *meta) sum64() uint64 {
	var buf [metaSize]byte
	m.encode(buf[:])
	h := fnv.New64a()
	_, _ = h.Write(buf[:metaChecksumOffset])
	return h.Sum64()
}

// meta decodes the meta stored on p.
func (p *page) meta() *meta {
	return decodeMeta(p.payload())
}
