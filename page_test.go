package gbolt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageType(t *testing.T) {
	for _, tc := range []struct {
		flags PageFlags
		want  string
	}{
		{PageBranch, "branch"},
		{PageLeaf, "leaf"},
		{PageMeta, "meta"},
		{PageFreelist, "freelist"},
		{0x4e20, "unknown<4e20>"},
	} {
		p := &page{data: make([]byte, 64)}
		p.setFlags(tc.flags)
		require.Equal(t, tc.want, p.typ())
	}
}

func TestPageHeader(t *testing.T) {
	p := &page{data: make([]byte, 4096)}
	p.setID(42)
	p.setFlags(PageLeaf)
	p.setCount(7)
	p.setOverflow(3)

	require.Equal(t, pgid(42), p.id())
	require.True(t, p.isLeaf())
	require.False(t, p.isBranch())
	require.Equal(t, uint16(7), p.count())
	require.Equal(t, uint32(3), p.overflow())
	require.Len(t, p.payload(), 4096-pageHeaderSize)
}

func TestPageAtClipsToOverflowRun(t *testing.T) {
	const pageSize = 128
	buf := make([]byte, pageSize*4)

	p := pageAt(buf, pageSize, pageSize)
	p.setID(1)
	p.setOverflow(1)

	q := pageAt(buf, pageSize, pageSize)
	require.Len(t, q.data, 2*pageSize)

	// An overflow run past the buffer end is clipped.
	q.setOverflow(10)
	r := pageAt(buf, pageSize, pageSize)
	require.Len(t, r.data, 3*pageSize)
}

func TestPageLeafElements(t *testing.T) {
	p := &page{data: make([]byte, 4096)}
	n := &node{isLeaf: true, inodes: inodes{
		{key: []byte("a"), value: []byte("1")},
		{key: []byte("bucket"), value: []byte("ignored"), flags: BucketLeafFlag},
		{key: []byte("c"), value: nil},
	}}
	n.write(p)

	require.Equal(t, uint16(3), p.count())
	e := p.leafPageElement(1)
	require.True(t, e.isBucket())
	require.Equal(t, []byte("bucket"), e.key)
	require.Equal(t, []byte("ignored"), e.value)
	require.Equal(t, []byte("c"), p.leafKey(2))
	require.Empty(t, p.leafPageElement(2).value)
}

func TestPageBranchElements(t *testing.T) {
	p := &page{data: make([]byte, 4096)}
	p.setID(9)
	n := &node{inodes: inodes{
		{key: []byte("aaa"), pgid: 4},
		{key: []byte("bbb"), pgid: 5},
	}}
	n.write(p)

	require.True(t, p.isBranch())
	require.Equal(t, []byte("bbb"), p.branchKey(1))
	require.Equal(t, pgid(5), p.branchPgid(1))
	e := p.branchPageElement(0)
	require.Equal(t, pgid(4), e.pgid)
	require.Equal(t, []byte("aaa"), e.key)
}

func TestPgidsMerge(t *testing.T) {
	a := pgids{4, 5, 6, 10, 11, 12, 13, 27}
	b := pgids{1, 3, 8, 9, 25, 30}
	require.Equal(t, pgids{1, 3, 4, 5, 6, 8, 9, 10, 11, 12, 13, 25, 27, 30}, a.merge(b))

	a = pgids{4, 5, 6, 10, 11, 12, 13, 27, 35, 36}
	b = pgids{8, 9, 25, 30}
	require.Equal(t, pgids{4, 5, 6, 8, 9, 10, 11, 12, 13, 25, 27, 30, 35, 36}, a.merge(b))

	require.Equal(t, pgids{1, 2}, pgids{}.merge(pgids{1, 2}))
	require.Equal(t, pgids{1, 2}, pgids{1, 2}.merge(nil))
}
